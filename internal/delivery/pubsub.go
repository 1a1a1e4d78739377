package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
)

const defaultPublishTimeout = 15 * time.Second

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// PubSubAdapter delivers events by publishing them to a Pub/Sub topic. Used
// for the analytics and notification destinations, which fan out through the
// message broker instead of calling an endpoint directly.
type PubSubAdapter struct {
	name    string
	pub     publisher
	timeout time.Duration
}

// NewPubSubAdapter wraps a topic publisher. A nil publisher (topic not
// configured) makes every delivery permanent.
func NewPubSubAdapter(name string, pub *gcppubsub.Publisher, timeout time.Duration) *PubSubAdapter {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubAdapter{
		name:    name,
		pub:     newGCPPublisher(pub),
		timeout: timeout,
	}
}

// Deliver implements Adapter.
func (a *PubSubAdapter) Deliver(ctx context.Context, event models.TaskRecord) (json.RawMessage, error) {
	if a.pub == nil {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("%s topic not configured", a.name))
	}

	attributes := map[string]string{
		"task_id":   event.ID.String(),
		"task_type": event.TaskType,
	}
	if event.AggregateType != nil {
		attributes["aggregate_type"] = *event.AggregateType
	}
	if event.AggregateID != nil {
		attributes["aggregate_id"] = event.AggregateID.String()
	}
	if event.CorrelationID != nil {
		attributes["correlation_id"] = *event.CorrelationID
	}

	publishCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result := a.pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: attributes,
	})
	if result == nil {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("%s publisher returned no result", a.name))
	}
	messageID, err := result.Get(publishCtx)
	if err != nil {
		// Broker errors and publish timeouts may clear; retry.
		return nil, fmt.Errorf("publishing to %s topic: %w", a.name, err)
	}

	receipt, err := json.Marshal(map[string]any{
		"messageId":   messageID,
		"publishedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, nil
	}
	return receipt, nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
