package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
)

type fakePublishResult struct {
	id  string
	err error
}

func (r *fakePublishResult) Get(ctx context.Context) (string, error) {
	return r.id, r.err
}

type fakePublisher struct {
	lastMsg *gcppubsub.Message
	result  *fakePublishResult
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.lastMsg = msg
	return p.result
}

func TestPubSubAdapterPublishesWithAttributes(t *testing.T) {
	pub := &fakePublisher{result: &fakePublishResult{id: "msg-42"}}
	adapter := &PubSubAdapter{name: "analytics", pub: pub, timeout: time.Second}

	aggregateID := uuid.New()
	aggregateType := "order"
	correlationID := "corr-7"
	event := models.TaskRecord{
		ID:            uuid.New(),
		TaskType:      "order.created",
		Payload:       json.RawMessage(`{"orderId":"o-1"}`),
		AggregateType: &aggregateType,
		AggregateID:   &aggregateID,
		CorrelationID: &correlationID,
	}

	receipt, err := adapter.Deliver(context.Background(), event)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if pub.lastMsg == nil {
		t.Fatalf("expected a published message")
	}
	if string(pub.lastMsg.Data) != `{"orderId":"o-1"}` {
		t.Fatalf("unexpected payload %s", pub.lastMsg.Data)
	}
	attrs := pub.lastMsg.Attributes
	if attrs["task_type"] != "order.created" || attrs["aggregate_type"] != "order" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if attrs["aggregate_id"] != aggregateID.String() || attrs["correlation_id"] != "corr-7" {
		t.Fatalf("unexpected attributes %v", attrs)
	}

	var decoded map[string]any
	if err := json.Unmarshal(receipt, &decoded); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if decoded["messageId"] != "msg-42" {
		t.Fatalf("unexpected receipt %v", decoded)
	}
}

func TestPubSubAdapterBrokerErrorIsRetryable(t *testing.T) {
	pub := &fakePublisher{result: &fakePublishResult{err: errors.New("deadline exceeded")}}
	adapter := &PubSubAdapter{name: "notification", pub: pub, timeout: time.Second}

	_, err := adapter.Deliver(context.Background(), models.TaskRecord{ID: uuid.New()})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if taskqueue.IsPermanent(err) {
		t.Fatalf("broker errors must stay retryable, got %v", err)
	}
}

func TestPubSubAdapterNilPublisherIsPermanent(t *testing.T) {
	adapter := NewPubSubAdapter("analytics", nil, 0)

	_, err := adapter.Deliver(context.Background(), models.TaskRecord{ID: uuid.New()})
	if err == nil || !taskqueue.IsPermanent(err) {
		t.Fatalf("nil publisher must be permanent, got %v", err)
	}
}
