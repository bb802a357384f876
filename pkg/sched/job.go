package sched

import (
	"context"
	"time"
)

// Job is a unit of scheduled work. Interval is the cadence between runs; a
// non-positive interval means the job runs once at scheduler start.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Interval returns the cadence between runs.
	Interval() time.Duration

	// Run executes one tick of the job.
	Run(ctx context.Context) error
}

type jobFunc struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

func (j *jobFunc) Name() string            { return j.name }
func (j *jobFunc) Interval() time.Duration { return j.interval }
func (j *jobFunc) Run(ctx context.Context) error {
	return j.fn(ctx)
}

// NewJob wraps a function as a Job.
func NewJob(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &jobFunc{name: name, interval: interval, fn: fn}
}
