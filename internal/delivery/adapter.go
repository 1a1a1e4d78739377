package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avencia-dev/taskforge/internal/taskqueue"
	"github.com/avencia-dev/taskforge/pkg/db/models"
	"github.com/avencia-dev/taskforge/pkg/enums"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

// Adapter delivers one outbox event to its destination. Errors carry the
// two-class contract: wrap with taskqueue.NewPermanentError when retrying
// cannot succeed, return a plain error when it might.
type Adapter interface {
	Deliver(ctx context.Context, event models.TaskRecord) (json.RawMessage, error)
}

// Dispatcher routes claimed outbox events to destination adapters. It is the
// outbox counterpart of the job handler registry.
type Dispatcher struct {
	adapters map[enums.Destination]Adapter
	logg     *logger.Logger
}

func NewDispatcher(logg *logger.Logger) *Dispatcher {
	return &Dispatcher{
		adapters: make(map[enums.Destination]Adapter),
		logg:     logg,
	}
}

// Register binds a destination to its adapter.
func (d *Dispatcher) Register(destination enums.Destination, adapter Adapter) {
	if !destination.IsValid() || adapter == nil {
		return
	}
	d.adapters[destination] = adapter
}

// Dispatch delivers the event. A missing destination or a destination with
// no registered adapter is permanent: no retry can ever find a route.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TaskRecord) (json.RawMessage, error) {
	if event.Destination == nil {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("event %s has no destination", event.ID))
	}
	adapter, ok := d.adapters[*event.Destination]
	if !ok {
		return nil, taskqueue.NewPermanentError(fmt.Errorf("no adapter registered for destination %s", *event.Destination))
	}
	if d.logg != nil {
		ctx = d.logg.WithField(ctx, "destination", string(*event.Destination))
	}
	return adapter.Deliver(ctx, event)
}
