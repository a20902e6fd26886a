package queue

import "context"

// Job defines a queue job handler. Jobs are registered per queue under their
// Name; a message whose Job field matches is dispatched to Handle.
type Job interface {
	// Name returns the unique identifier of the job within its queue.
	Name() string

	// Handle processes one job instance with the given payload.
	Handle(ctx context.Context, payload interface{}) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context, payload interface{}) error
}

func (j JobFunc) Name() string { return j.JobName }

func (j JobFunc) Handle(ctx context.Context, payload interface{}) error {
	return j.Fn(ctx, payload)
}
