package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	got    []string
	failed int
	done   chan struct{}
}

func (c *collector) handle(_ context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed > 0 {
		c.failed--
		return errors.New("transient delivery failure")
	}
	c.got = append(c.got, value)
	select {
	case c.done <- struct{}{}:
	default:
	}
	return nil
}

func TestQueueDelivers(t *testing.T) {
	c := &collector{done: make(chan struct{}, 1)}
	q := NewQueue[string]("test", c.handle, Config{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue("hello"))

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("value was not delivered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, []string{"hello"}, c.got)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	c := &collector{failed: 2, done: make(chan struct{}, 1)}
	q := NewQueue[string]("test", c.handle, Config{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue("eventually"))

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("value was not delivered after retries")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, []string{"eventually"}, c.got)
}

func TestQueueDropsAfterExhaustedRetries(t *testing.T) {
	c := &collector{failed: 10, done: make(chan struct{}, 1)}
	q := NewQueue[string]("test", c.handle, Config{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue("doomed"))
	time.Sleep(50 * time.Millisecond)
	q.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.got)
	// Initial attempt plus two retries were consumed.
	require.Equal(t, 7, c.failed)
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue[string]("test", func(context.Context, string) error { return nil }, Config{})
	require.Error(t, q.Enqueue("early"))
}
