package session

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of collaborator calls in flight across all
// sessions.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Do runs fn once a slot is free. It returns ctx's error if the context
// ends while waiting.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
