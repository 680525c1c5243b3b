// Package scheduler runs deferred one-shot jobs. A job is identified by its kind and key, and at
// most one instance of a given job is outstanding at a time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Job struct {
	Kind string
	Key  string
}

func (j Job) ID() string {
	return j.Kind + ":" + j.Key
}

func parseJobID(id string) (Job, error) {
	kind, key, ok := strings.Cut(id, ":")
	if !ok || kind == "" || key == "" {
		return Job{}, fmt.Errorf("malformed job id %q", id)
	}
	return Job{Kind: kind, Key: key}, nil
}

// Func executes a job. Jobs are terminal once Func returns, whatever the error.
type Func func(ctx context.Context, key string) error

type Scheduler interface {
	// ScheduleOnce enqueues job to run at or after at, replacing any pending run of the same job.
	ScheduleOnce(ctx context.Context, job Job, at time.Time) error
	// Cancel removes a pending job. Cancelling an unknown job is not an error.
	Cancel(ctx context.Context, job Job) error
	// Exists reports whether job is scheduled or currently processing.
	Exists(ctx context.Context, job Job) (bool, error)
	// Handle registers fn for jobs of kind.
	Handle(kind string, fn Func)
}
