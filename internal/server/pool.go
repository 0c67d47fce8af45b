package server

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many CPU-heavy pipeline rounds (decode, resample, model
// inference) may run at once across all sessions, so a burst of chunk uploads
// cannot starve the HTTP dispatcher or the WebSocket readers.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool admitting up to max concurrent rounds. When max is
// zero or negative, the number of CPUs is used.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(max))}
}

// Do runs fn once a slot is free. It blocks until admission or until ctx is
// done, in which case fn never runs and the context error is returned.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("server: acquire worker slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}
