package worker

import "errors"

// Errors reported by pool lifecycle and submission methods.
var (
	// ErrPoolNotStarted is returned by submissions before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by submissions after Stop begins,
	// including SubmitWait callers that were still blocked at that
	// point.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by TrySubmit when the task queue is at
	// capacity. SubmitWait blocks for space instead.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor is the panic value when NewPool is given a nil
	// processor.
	ErrNilProcessor = errors.New("processor function cannot be nil")
)
