package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/app"
	"github.com/noah-isme/parkir-api/internal/billing"
	"github.com/noah-isme/parkir-api/internal/config"
	"github.com/noah-isme/parkir-api/internal/notify"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/queue"
	"github.com/noah-isme/parkir-api/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	queue.MustRegisterMetrics(nil)
	resilience.MustRegisterMetrics(nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "parkir-worker",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, "parkir-worker")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	asynqLog := asynqLogger{log: logger.With().Str("component", "asynq").Logger()}

	taskServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.QueueConcurrency,
		Queues:      map[string]int{billing.QueueName: 1},
		Logger:      asynqLog,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("billing task failed")
		}),
		ShutdownTimeout: 10 * time.Second,
	})
	mux := asynq.NewServeMux()
	billing.TaskHandler{Generator: deps.Generator, Log: deps.Generator.Log}.Register(mux)
	if err := taskServer.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start billing task server")
	}
	defer taskServer.Shutdown()

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: cfg.Location(), Logger: asynqLog})
	entryID, err := billing.RegisterSchedule(scheduler, cfg.BillingSchedule)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.BillingSchedule).Msg("register billing schedule")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start billing scheduler")
	}
	defer scheduler.Shutdown()
	logger.Info().Str("schedule", cfg.BillingSchedule).Str("entry_id", entryID).Msg("billing schedule registered")

	sink, err := deps.NotifySink()
	if err != nil {
		logger.Fatal().Err(err).Msg("configure notification sink")
	}
	notifyHandler := &notify.Handler{
		Sink:   sink,
		Replay: notify.RedisReplayGuard{R: deps.Redis, Prefix: cfg.QueueRedisPrefix},
		Log:    logger.With().Str("component", "notify").Str("sink", sink.Name()).Logger(),
	}
	notifyWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              notify.TaskKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.NotifyTimeout * 4,
		RetryBase:         cfg.QueueRetryBase,
		RetryJitter:       cfg.QueueRetryJitter,
		Store:             deps.DeadLetters,
		Logger:            &logger,
		Handler:           notifyHandler.Handle,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		deps.Relay().Run(ctx, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	}()
	go func() {
		defer wg.Done()
		if err := notifyWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("notification worker stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		summary, err := deps.Generator.RunExclusive(ctx)
		switch {
		case errors.Is(err, billing.ErrRunInProgress):
			logger.Info().Msg("startup billing pass skipped, another replica holds the lock")
		case err != nil:
			logger.Error().Err(err).Msg("startup billing pass")
		default:
			logger.Info().Int("created", summary.Created).Int("failed", summary.Failed).Msg("startup billing pass finished")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if cfg.MetricsEnabled {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("worker metrics listener")
			}
		}()
	}

	logger.Info().Msg("worker started")
	<-ctx.Done()
	logger.Info().Msg("worker shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if cfg.MetricsEnabled {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
