package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/db/models"
)

// apiAdapter delivers events to a fixed provider endpoint (email, sms,
// payment gateway). Same two-class contract as the webhook adapter; a
// missing endpoint configuration is permanent because no retry can invent
// one.
type apiAdapter struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// APIOption configures optional adapter behavior.
type APIOption func(*apiAdapter)

// WithAPIHTTPClient overrides the default HTTP client.
func WithAPIHTTPClient(client *http.Client) APIOption {
	return func(a *apiAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func newAPIAdapter(name, endpoint, apiKey string, timeout time.Duration, opts []APIOption) *apiAdapter {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	adapter := &apiAdapter{
		name:       name,
		endpoint:   strings.TrimSpace(endpoint),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

// NewEmailAdapter delivers email events to the configured provider endpoint.
func NewEmailAdapter(cfg config.DeliveryConfig, opts ...APIOption) Adapter {
	return newAPIAdapter("email", cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.WebhookTimeout, opts)
}

// NewSMSAdapter delivers sms events to the configured provider endpoint.
func NewSMSAdapter(cfg config.DeliveryConfig, opts ...APIOption) Adapter {
	return newAPIAdapter("sms", cfg.SMSEndpoint, cfg.SMSAPIKey, cfg.WebhookTimeout, opts)
}

// NewPaymentAdapter delivers payment gateway events to the configured
// provider endpoint.
func NewPaymentAdapter(cfg config.DeliveryConfig, opts ...APIOption) Adapter {
	return newAPIAdapter("payment_gateway", cfg.PaymentEndpoint, cfg.PaymentAPIKey, cfg.WebhookTimeout, opts)
}

// Deliver implements Adapter.
func (a *apiAdapter) Deliver(ctx context.Context, event models.TaskRecord) (json.RawMessage, error) {
	if a.endpoint == "" {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("%s endpoint not configured", a.name))
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.endpoint, bytes.NewReader(event.Payload))
	if err != nil {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("building %s request: %w", a.name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", event.ID.String())
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", a.name, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return deliveryReceipt(resp.StatusCode), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, taskqueue.NewPermanentError(fmt.Errorf("%s provider rejected with status %d: %s", a.name, resp.StatusCode, strings.TrimSpace(string(body))))
	default:
		return nil, fmt.Errorf("%s provider returned status %d: %s", a.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
