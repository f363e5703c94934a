package generation

import (
	"context"
	"time"

	"coursegen/pkg/model"
)

// Job is one queued generation request. It is settled exactly once.
type Job struct {
	Prompt      string
	ContentType model.ContentType
	CreatedAt   time.Time

	ctx    context.Context
	result chan Result
}

// Result is the outcome of a Job.
type Result struct {
	Text string
	Err  error
}

func newJob(ctx context.Context, prompt string, ct model.ContentType) *Job {
	return &Job{
		Prompt:      prompt,
		ContentType: ct,
		CreatedAt:   time.Now(),
		ctx:         ctx,
		result:      make(chan Result, 1),
	}
}

func (j *Job) settle(text string, err error) {
	j.result <- Result{Text: text, Err: err}
}
