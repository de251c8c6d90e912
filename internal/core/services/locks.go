package services

import (
	"context"
	"sync"
)

// DestinationLocks hands out one mutual-exclusion token per destination
// file. A holder keeps the token across the bulk copy and the metadata
// application of one job.
type DestinationLocks struct {
	mu     sync.Mutex
	tokens map[string]chan struct{}
}

// NewDestinationLocks creates an empty lock table.
func NewDestinationLocks() *DestinationLocks {
	return &DestinationLocks{tokens: make(map[string]chan struct{})}
}

// Acquire blocks until the token for key is free or ctx is done.
// The returned release function must be called exactly once.
func (l *DestinationLocks) Acquire(ctx context.Context, key string) (func(), error) {
	token := l.token(key)

	select {
	case token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-token })
	}, nil
}

// TryAcquire takes the token only if it is free.
func (l *DestinationLocks) TryAcquire(key string) (func(), bool) {
	token := l.token(key)

	select {
	case token <- struct{}{}:
	default:
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-token })
	}, true
}

func (l *DestinationLocks) token(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	token, ok := l.tokens[key]
	if !ok {
		token = make(chan struct{}, 1)
		l.tokens[key] = token
	}
	return token
}
