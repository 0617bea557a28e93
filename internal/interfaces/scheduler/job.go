package scheduler

import "context"

// Job is a unit of work run by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the pool's job timeout.
	Execute(ctx context.Context) error

	// Name is a short stable identifier used in logs and metrics.
	Name() string

	Description() string
}
