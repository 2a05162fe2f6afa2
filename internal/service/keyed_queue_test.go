package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guysoft/craftbeerpibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedQueueSerializesSameKey(t *testing.T) {
	q := NewKeyedQueue()
	key := domain.SessionKey{ChatID: 1, UserID: 2}

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Run(context.Background(), key, func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxRunning)
}

func TestKeyedQueueRunsDifferentKeysConcurrently(t *testing.T) {
	q := NewKeyedQueue()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = q.Run(context.Background(), domain.SessionKey{ChatID: 1, UserID: 1}, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = q.Run(context.Background(), domain.SessionKey{ChatID: 1, UserID: 2}, func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second key blocked behind the first")
	}
	close(release)
}

func TestKeyedQueuePreservesOrderAfterCancelledWaiter(t *testing.T) {
	q := NewKeyedQueue()
	key := domain.SessionKey{ChatID: 1, UserID: 2}
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = q.Run(context.Background(), key, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Run(ctx, key, func(context.Context) error {
		t.Error("cancelled waiter must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	var thirdRan atomic.Bool
	thirdDone := make(chan struct{})
	go func() {
		_ = q.Run(context.Background(), key, func(context.Context) error {
			thirdRan.Store(true)
			return nil
		})
		close(thirdDone)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, thirdRan.Load())
	close(release)

	select {
	case <-thirdDone:
	case <-time.After(time.Second):
		t.Fatal("queue stalled after a cancelled waiter")
	}
	assert.True(t, thirdRan.Load())
}
