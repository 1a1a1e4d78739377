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
	"github.com/avencia-dev/taskforge/pkg/db/models"
)

const (
	defaultWebhookTimeout       = 10 * time.Second
	responseBodyReadLimit int64 = 1024
)

// WebhookAdapter POSTs event payloads to the row's destination URL.
//
// Classification follows destination semantics: a 4xx response means the
// request itself was rejected and an identical retry cannot succeed
// (permanent); 5xx, network errors, and timeouts are transient.
type WebhookAdapter struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WebhookOption configures optional adapter behavior.
type WebhookOption func(*WebhookAdapter)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(a *WebhookAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewWebhookAdapter builds the webhook adapter with a bounded per-request
// timeout.
func NewWebhookAdapter(timeout time.Duration, opts ...WebhookOption) *WebhookAdapter {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	adapter := &WebhookAdapter{
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

// Deliver implements Adapter.
func (a *WebhookAdapter) Deliver(ctx context.Context, event models.TaskRecord) (json.RawMessage, error) {
	if event.DestinationURL == nil || strings.TrimSpace(*event.DestinationURL) == "" {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("webhook event %s has no destination url", event.ID))
	}
	url := strings.TrimSpace(*event.DestinationURL)

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(event.Payload))
	if err != nil {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", event.ID.String())
	req.Header.Set("X-Task-Type", event.TaskType)
	if event.CorrelationID != nil {
		req.Header.Set("X-Correlation-ID", *event.CorrelationID)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Timeout or network failure: the endpoint may recover.
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return deliveryReceipt(resp.StatusCode), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, taskqueue.NewPermanentError(fmt.Errorf("webhook rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	default:
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func deliveryReceipt(status int) json.RawMessage {
	receipt, err := json.Marshal(map[string]any{
		"status":      status,
		"deliveredAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil
	}
	return receipt
}
