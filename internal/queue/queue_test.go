package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/queue"
)

func TestEnqueueDequeue(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "notify:event", Payload: []byte(`{"id":1}`), IdempotencyKey: "evt-1"}))

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "notify:event",
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case task := <-processed:
		require.Equal(t, []byte(`{"id":1}`), task.Payload)
		require.Equal(t, "evt-1", task.IdempotencyKey)
		require.Equal(t, 1, task.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for task")
	}
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "dedup", DedupTTL: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "notify:event", Payload: []byte("x"), IdempotencyKey: "evt-7"}))
	}
	ready, inflight, err := enq.Depth(ctx, "notify:event")
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)
	require.Zero(t, inflight)
}

func TestEnqueueRejectsInvalidKind(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client}
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind"}))
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{}))
}

func TestWorkerRetries(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "notify:event", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "notify:event",
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("sink unavailable")
			}
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not retry in time")
	}
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestWorkerRequiresHandler(t *testing.T) {
	client := newRedis(t)
	err := queue.Worker{R: client, Kind: "notify:event"}.Run(context.Background())
	require.Error(t, err)
}
