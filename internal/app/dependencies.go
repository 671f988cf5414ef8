package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/parkir-api/internal/audit"
	"github.com/noah-isme/parkir-api/internal/billing"
	"github.com/noah-isme/parkir-api/internal/config"
	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/lock"
	"github.com/noah-isme/parkir-api/internal/notify"
	"github.com/noah-isme/parkir-api/internal/queue"
	"github.com/noah-isme/parkir-api/internal/ratelimit"
	"github.com/noah-isme/parkir-api/internal/report"
	"github.com/noah-isme/parkir-api/internal/resilience"
	"github.com/noah-isme/parkir-api/internal/session"
	"github.com/noah-isme/parkir-api/internal/tariff"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

// Dependencies holds the shared clients and domain services used by the API
// server and the worker.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *pgxpool.Pool
	Redis   *redis.Client
	Tasks   *asynq.Client
	Limiter *limiter.Limiter

	Runner      *db.Runner
	Bus         *events.Bus
	Locker      lock.Locker
	Queue       queue.Enqueuer
	DeadLetters queue.DeadLetters
	Trigger     billing.Trigger
	Audit       *audit.Service
	AuditLog    audit.Store

	Tariffs   *tariff.Service
	Vehicles  *vehicle.Service
	Sessions  *session.Service
	Invoices  *billing.Service
	Generator *billing.Generator
	Reports   *report.Service
}

// Open connects Postgres, Redis and the asynq client, then wires the services.
// Callers own the result and must Close it.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, service string) (*Dependencies, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		ApplicationName: service,
		MaxConns:        int32(cfg.DBMaxConns),
		Tracing:         cfg.TracingEnabled,
	})
	if err != nil {
		return nil, err
	}

	rdb, err := NewRedis(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("parse asynq redis url: %w", err)
	}

	tasks := asynq.NewClient(redisOpt)
	deps := Wire(cfg, log, pool, rdb, tasks)
	deps.Tasks = tasks
	if deps.Limiter, err = ratelimit.New(rdb, cfg.RateLimit, cfg.QueueRedisPrefix+":ratelimit", false); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

// NewRedis opens an instrumented Redis client and verifies it answers.
func NewRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if cfg.TracingEnabled {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			log.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			log.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Wire builds the services on top of already opened clients. A nil pool or a
// nil task client is accepted so routers can be assembled in tests.
func Wire(cfg *config.Config, log zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client, tasks billing.Enqueuer) *Dependencies {
	now := time.Now
	deps := &Dependencies{
		Config: cfg,
		Log:    log,
		DB:     pool,
		Redis:  rdb,
		Bus:    &events.Bus{Log: log.With().Str("component", "events").Logger(), Now: now},
		Locker: lock.Locker{R: rdb, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff},
		Queue: queue.Enqueuer{
			R:           rdb,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		},
		Trigger: billing.Trigger{Client: tasks, Log: log.With().Str("component", "billing_trigger").Logger()},
	}

	var q db.DBTX
	if pool != nil {
		deps.Runner = db.NewRunner(pool, cfg.StoreTimeout)
		deps.DeadLetters = queue.NewStore(pool)
		deps.AuditLog = audit.NewStore(pool)
		q = pool
	} else {
		deps.Runner = &db.Runner{Timeout: cfg.StoreTimeout}
	}

	deps.Audit = &audit.Service{
		Store:        deps.AuditLog,
		Enabled:      cfg.AuditEnabled && deps.AuditLog != nil,
		SamplingRate: cfg.AuditSamplingRate,
		Timeout:      cfg.StoreTimeout,
		Now:          now,
	}
	deps.Tariffs = &tariff.Service{Q: tariff.NewStore(q), Timeout: cfg.StoreTimeout}
	deps.Vehicles = &vehicle.Service{
		UoW:     vehicle.PgUnit{Runner: deps.Runner},
		Trigger: deps.Trigger,
		Log:     log.With().Str("component", "vehicle").Logger(),
	}
	deps.Sessions = &session.Service{
		UoW:     session.PgUnit{Runner: deps.Runner, Bus: deps.Bus},
		Reader:  session.NewStore(q),
		Trigger: deps.Trigger,
		Log:     log.With().Str("component", "session").Logger(),
		Now:     now,
		Timeout: cfg.StoreTimeout,
	}
	billingUnit := billing.PgUnit{Runner: deps.Runner, Bus: deps.Bus}
	deps.Invoices = &billing.Service{
		UoW:     billingUnit,
		Reader:  billing.NewStore(q),
		Log:     log.With().Str("component", "billing").Logger(),
		Now:     now,
		Timeout: cfg.StoreTimeout,
	}
	deps.Generator = &billing.Generator{
		UoW:              billingUnit,
		Locker:           deps.Locker,
		Log:              log.With().Str("component", "billing_generator").Logger(),
		Now:              now,
		DefaultCycleDays: cfg.BillingDefaultCycleDays,
		LockTTL:          cfg.BillingLockTTL,
		OverdueGrace:     cfg.BillingOverdueGrace,
	}
	deps.Reports = &report.Service{
		Q:       report.NewStore(q),
		R:       rdb,
		TTL:     cfg.ReportCacheTTL,
		Loc:     cfg.Location(),
		Log:     log.With().Str("component", "report").Logger(),
		Now:     now,
		Timeout: cfg.StoreTimeout,
	}
	return deps
}

// NotifySink selects the webhook sink when NOTIFY_WEBHOOK_URL is set and the
// log sink otherwise.
func (d *Dependencies) NotifySink() (notify.Sink, error) {
	cfg := d.Config
	if cfg.NotifyWebhookURL == "" {
		return notify.LogSink{Log: d.Log.With().Str("component", "notify").Logger()}, nil
	}
	client := &resilience.HTTPClient{
		Client:      notify.NewHTTPClient(),
		Breaker:     resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor),
		BaseBackoff: cfg.QueueRetryBase,
		MaxAttempts: 3,
		Jitter:      cfg.QueueRetryJitter,
		Timeout:     cfg.NotifyTimeout,
		Target:      "notify-webhook",
		Logger:      &d.Log,
	}
	sink, err := notify.NewWebhookSink(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, client)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Relay moves committed outbox rows onto the notification queue.
func (d *Dependencies) Relay() *notify.Relay {
	return &notify.Relay{
		Outbox:      notify.PgOutbox{Runner: d.Runner, Now: time.Now},
		Queue:       d.Queue,
		MaxAttempts: d.Config.QueueMaxAttempts,
		Log:         d.Log.With().Str("component", "outbox_relay").Logger(),
	}
}

// Close releases every client Open created.
func (d *Dependencies) Close() {
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close asynq client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
