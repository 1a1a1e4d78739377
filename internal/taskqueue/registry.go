package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/avencia-dev/taskforge/pkg/db/models"
)

// Handler executes one job. The payload is passed verbatim; the returned
// bytes are stored as the record's result. Handlers must be idempotent:
// delivery is at-least-once.
type Handler func(ctx context.Context, record models.TaskRecord) (json.RawMessage, error)

// HandlerRegistry maps task types to handlers. It is constructed at startup
// and passed into the poller rather than living as a package-level
// singleton, so tests and multi-worker processes each get their own.
type HandlerRegistry struct {
	mtx      sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a task type to its handler. Re-registering replaces the
// previous handler.
func (r *HandlerRegistry) Register(taskType string, handler Handler) {
	if taskType == "" || handler == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.handlers[taskType] = handler
}

// TaskTypes returns the registered task types.
func (r *HandlerRegistry) TaskTypes() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}

// Dispatch runs the handler registered for the record's task type. An
// unrecognized task type is a permanent failure: no code path exists to
// ever succeed, so retrying is pointless.
func (r *HandlerRegistry) Dispatch(ctx context.Context, record models.TaskRecord) (json.RawMessage, error) {
	r.mtx.RLock()
	handler, ok := r.handlers[record.TaskType]
	r.mtx.RUnlock()
	if !ok {
		return nil, NewPermanentError(fmt.Errorf("no handler registered for task type %q", record.TaskType))
	}
	return handler(ctx, record)
}
