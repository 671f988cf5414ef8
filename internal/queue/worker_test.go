package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/queue"
)

const notifyKind = "notify:event"

// runWorker starts w in the background and returns a func that stops it and
// waits for Run to return.
func runWorker(t *testing.T, w queue.Worker) func() {
	t.Helper()
	nop := zerolog.Nop()
	w.Logger = &nop
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func enqueueNotify(t *testing.T, client *redis.Client, prefix, key string, maxAttempts int) queue.Enqueuer {
	t.Helper()
	enq := queue.Enqueuer{R: client, Prefix: prefix, DedupTTL: time.Minute, MaxAttempts: maxAttempts}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{
		Kind:           notifyKind,
		Payload:        []byte(`{"topic":"session.closed"}`),
		IdempotencyKey: key,
	}))
	return enq
}

func TestSoftDeadlineCancelsAndRetries(t *testing.T) {
	client := newRedis(t)
	attempts := make(chan int, 4)

	stop := runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "soft",
		Kind:              notifyKind,
		VisibilityTimeout: 150 * time.Millisecond,
		SoftDeadline:      60 * time.Millisecond,
		RetryBase:         10 * time.Millisecond,
		Store:             newMemoryStore(),
		Handler: func(ctx context.Context, task queue.Task) error {
			attempts <- task.Attempt
			if task.Attempt == 1 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		},
	})
	enq := enqueueNotify(t, client, "soft", "evt-1", 3)

	require.Eventually(t, func() bool { return len(attempts) >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, <-attempts)
	require.Equal(t, 2, <-attempts)

	require.Eventually(t, func() bool {
		ready, inflight, err := enq.Depth(context.Background(), notifyKind)
		return err == nil && ready == 0 && inflight == 0
	}, time.Second, 10*time.Millisecond)
	stop()
}

func TestExhaustedTaskIsDeadLettered(t *testing.T) {
	client := newRedis(t)
	store := newMemoryStore()

	runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "dead",
		Kind:              notifyKind,
		VisibilityTimeout: 120 * time.Millisecond,
		RetryBase:         10 * time.Millisecond,
		Store:             store,
		Handler: func(context.Context, queue.Task) error {
			return errors.New("webhook returned 500")
		},
	})
	enqueueNotify(t, client, "dead", "evt-9", 2)

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background(), notifyKind)
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)

	entries := store.snapshot()
	require.Len(t, entries, 1)
	dead := entries[0]
	require.Equal(t, "evt-9", dead.IdempotencyKey)
	require.Equal(t, 2, dead.Attempts)
	require.NotNil(t, dead.LastError)
	require.Equal(t, "webhook returned 500", *dead.LastError)
	require.NotEmpty(t, dead.Payload)

	listed, err := client.LLen(context.Background(), "dead:notify:event:dlq").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), listed)
}
