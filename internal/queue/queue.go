package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/resilience"
)

const defaultMaxAttempts = 10

// Task is one unit of deferred work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	// Attempt is 1 on the first delivery.
	Attempt int
	Delay   time.Duration
}

// keyspace names every Redis key used for one prefix.
type keyspace string

func (k keyspace) join(parts ...string) string {
	out := string(k)
	if out == "" {
		out = "queue"
	}
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

func (k keyspace) ready(kind string) string {
	if k == "" {
		return k.join(kind)
	}
	return k.join("queue", kind)
}

func (k keyspace) processing(kind string) string { return k.join(kind, "processing") }
func (k keyspace) dead(kind string) string       { return k.join(kind, "dlq") }
func (k keyspace) dedup(kind, key string) string { return k.join("dedup", kind, key) }

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules the task. A task carrying an idempotency key is accepted
// once per dedup window; later copies are dropped silently.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	keys := keyspace(e.Prefix)
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = defaultMaxAttempts
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Depth reports ready and in-flight counts for kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, inflight int64, err error) {
	keys := keyspace(e.Prefix)
	ready, err = e.R.ZCard(ctx, keys.ready(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	inflight, err = e.R.ZCard(ctx, keys.processing(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return ready, inflight, nil
}

func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == ':':
		default:
			return ""
		}
	}
	return kind
}

// Worker consumes tasks of a single kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler call. It defaults to the
	// visibility timeout and never exceeds it.
	SoftDeadline time.Duration
	RetryBase    time.Duration
	RetryJitter  float64
	// Store archives exhausted tasks. Nil keeps them only in the Redis list.
	Store   DeadLetters
	Logger  *zerolog.Logger
	Handler func(context.Context, Task) error
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers. Claimed tasks sit in a processing set scored by their visibility
// deadline so a crashed worker's tasks are redelivered.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	deadline := w.SoftDeadline
	if deadline <= 0 || deadline > visibility {
		deadline = visibility
	}
	if w.RetryBase <= 0 {
		w.RetryBase = 200 * time.Millisecond
	}
	keys := keyspace(w.Prefix)
	log := w.logger().With().Str("queue_kind", kind).Logger()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeue := time.NewTicker(visibility / 4)
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeue.C:
			if n, err := w.requeueExpired(ctx, keys, kind); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			} else if n > 0 {
				log.Warn().Int("count", n).Msg("requeued expired tasks")
			}
			continue
		case sem <- struct{}{}:
		}

		raw, msg, ok, err := w.claim(ctx, keys, kind, visibility)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			<-sem
			idle(ctx, 100*time.Millisecond)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, keys, raw, msg, deadline, log)
		}()
	}
}

// claim pops the earliest task and moves it into the processing set. Tasks
// not yet due go back untouched.
func (w Worker) claim(ctx context.Context, keys keyspace, kind string, visibility time.Duration) (string, taskMessage, bool, error) {
	res, err := w.R.ZPopMin(ctx, keys.ready(kind), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", taskMessage{}, false, nil
		}
		return "", taskMessage{}, false, err
	}
	if len(res) == 0 {
		return "", taskMessage{}, false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return "", taskMessage{}, false, nil
	}
	msg, err := decodeMessage(member)
	if err != nil {
		w.logger().Error().Err(err).Str("queue_kind", kind).Msg("dropping undecodable task")
		return "", taskMessage{}, false, nil
	}
	if now := time.Now().UnixNano(); msg.AvailableAt > now {
		if err := w.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err(); err != nil {
			return "", taskMessage{}, false, err
		}
		return "", taskMessage{}, false, nil
	}

	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", taskMessage{}, false, err
	}
	raw := string(encoded)
	expires := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, keys.processing(kind), redis.Z{Score: float64(expires), Member: raw}).Err(); err != nil {
		return "", taskMessage{}, false, err
	}
	return raw, msg, true, nil
}

func (w Worker) process(ctx context.Context, keys keyspace, raw string, msg taskMessage, deadline time.Duration, log zerolog.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	err := w.Handler(jobCtx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})

	// Bookkeeping must survive worker shutdown.
	bg, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stop()
	if err == nil {
		w.ack(bg, keys, raw, msg)
		QueueProcessedTotal.WithLabelValues(msg.Kind, "success").Inc()
		return
	}
	log.Warn().Err(err).Str("idempotency_key", msg.Key).Int("attempt", msg.Attempt).Msg("task failed")
	w.fail(bg, keys, raw, msg, err, log)
}

func (w Worker) ack(ctx context.Context, keys keyspace, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, keys.processing(msg.Kind), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys.dedup(msg.Kind, msg.Key)).Err()
	}
}

func (w Worker) fail(ctx context.Context, keys keyspace, raw string, msg taskMessage, cause error, log zerolog.Logger) {
	_ = w.R.ZRem(ctx, keys.processing(msg.Kind), raw).Err()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.bury(ctx, keys, msg, cause, log)
		return
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	msg.AvailableAt = time.Now().Add(resilience.Backoff(w.RetryBase, msg.Attempt, w.RetryJitter)).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, keys.ready(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
		log.Error().Err(err).Str("idempotency_key", msg.Key).Msg("reschedule failed")
	}
}

// bury moves an exhausted task to the dead-letter list and the archive store.
func (w Worker) bury(ctx context.Context, keys keyspace, msg taskMessage, cause error, log zerolog.Logger) {
	QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.LPush(ctx, keys.dead(msg.Kind), encoded).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys.dedup(msg.Kind, msg.Key)).Err()
	}
	if w.Store != nil {
		lastErr := cause.Error()
		if _, err := w.Store.Insert(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        encoded,
			Attempts:       msg.Attempt,
			LastError:      &lastErr,
		}); err != nil {
			log.Error().Err(err).Str("idempotency_key", msg.Key).Msg("dead-letter archive failed")
		} else if n, err := w.Store.Count(ctx, msg.Kind); err == nil {
			QueueDLQSize.WithLabelValues(msg.Kind).Set(float64(n))
		}
	}
	log.Error().Err(cause).Str("idempotency_key", msg.Key).Int("attempts", msg.Attempt).Msg("task moved to dead-letter queue")
}

// requeueExpired returns tasks whose visibility deadline passed to the ready set.
func (w Worker) requeueExpired(ctx context.Context, keys keyspace, kind string) (int, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, keys.processing(kind), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	moved := 0
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, keys.processing(kind), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = now
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := w.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(now), Member: encoded}).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func idle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
