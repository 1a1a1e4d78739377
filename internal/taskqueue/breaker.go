package taskqueue

import "time"

// CircuitBreaker gates database access during outages. Database-level
// failures are recorded here rather than against individual task attempts,
// so an outage cannot exhaust retry budgets.
//
// The engine only consumes this interface; the default is a pass-through
// that never opens.
type CircuitBreaker interface {
	CanExecute() bool
	RecordSuccess()
	RecordFailure(err error)
	Backoff() time.Duration
}

type passthroughBreaker struct{}

func (passthroughBreaker) CanExecute() bool        { return true }
func (passthroughBreaker) RecordSuccess()          {}
func (passthroughBreaker) RecordFailure(err error) {}
func (passthroughBreaker) Backoff() time.Duration  { return 0 }

// NopBreaker returns a circuit breaker that is always closed.
func NopBreaker() CircuitBreaker {
	return passthroughBreaker{}
}
