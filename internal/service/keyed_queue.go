package service

import (
	"context"
	"sync"

	"github.com/guysoft/craftbeerpibot/internal/domain"
)

// KeyedQueue runs functions one at a time per session key. Functions for
// different keys run concurrently.
type KeyedQueue struct {
	mu     sync.Mutex
	chains map[domain.SessionKey]chan struct{}
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{chains: map[domain.SessionKey]chan struct{}{}}
}

func (q *KeyedQueue) Run(ctx context.Context, key domain.SessionKey, fn func(context.Context) error) error {
	q.mu.Lock()
	previous := q.chains[key]
	next := make(chan struct{})
	q.chains[key] = next
	q.mu.Unlock()

	release := func() {
		close(next)
		q.mu.Lock()
		if q.chains[key] == next {
			delete(q.chains, key)
		}
		q.mu.Unlock()
	}

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			// keep the chain ordered: later callers still wait for previous
			go func() {
				<-previous
				release()
			}()
			return ctx.Err()
		}
	}
	defer release()

	return fn(ctx)
}
