package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/parkir-api/internal/audit"
	"github.com/noah-isme/parkir-api/internal/billing"
	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/health"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/queue"
	"github.com/noah-isme/parkir-api/internal/ratelimit"
	"github.com/noah-isme/parkir-api/internal/report"
	"github.com/noah-isme/parkir-api/internal/security"
	"github.com/noah-isme/parkir-api/internal/session"
	"github.com/noah-isme/parkir-api/internal/tariff"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

// NewRouter mounts the HTTP surface. httpMetrics may be nil when Prometheus is
// disabled.
func NewRouter(d *Dependencies, httpMetrics *obs.HTTPMetrics) chi.Router {
	cfg := d.Config

	tariffHandler := &tariff.Handler{Svc: d.Tariffs}
	vehicleHandler := &vehicle.Handler{Svc: d.Vehicles}
	sessionHandler := &session.Handler{Svc: d.Sessions}
	billingHandler := &billing.Handler{Svc: d.Invoices, Generator: d.Generator}
	reportHandler := &report.Handler{
		Svc:      d.Reports,
		Renderer: report.PDFRenderer{Organization: "Parkir", Loc: cfg.Location()},
	}
	queueAdmin := &queue.AdminHandler{
		Store:             d.DeadLetters,
		Queue:             d.Queue,
		Logger:            d.Log,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}
	healthHandler := health.Handler{
		Checker:      health.Deps{DB: d.DB, Redis: d.Redis},
		DBTimeout:    cfg.HealthReadyDBTimeout,
		RedisTimeout: cfg.HealthReadyRedisTimeout,
	}
	auditHandler := audit.Handler{Store: d.AuditLog}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	rec := audit.HTTPRecorder{
		Service: d.Audit,
		OnError: func(err error) { d.Log.Warn().Err(err).Msg("audit record failed") },
	}
	audited := func(resource string) func(http.Handler) http.Handler {
		return rec.Middleware(audit.HTTPConfig{ResourceType: resource, ResourceIDParam: "id"})
	}
	limit := ratelimit.Handler{
		Limiter: d.Limiter,
		OnError: func(err error) { d.Log.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Operator)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Log}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader, obs.OperatorHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limit.Middleware)
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

		v.Get("/lots/{lotID}/tariffs", tariffHandler.List)
		v.With(idem.Middleware, rec.Middleware(audit.HTTPConfig{ResourceType: "tariff", ResourceIDParam: "lotID"})).
			Post("/lots/{lotID}/tariffs", tariffHandler.Create)
		v.With(idem.Middleware, audited("tariff")).Patch("/tariffs/{id}", tariffHandler.UpdateRate)

		v.Route("/vehicles", func(vr chi.Router) {
			vr.Get("/{id}", vehicleHandler.Get)
			vr.Group(func(g chi.Router) {
				g.Use(idem.Middleware, audited("vehicle"))
				g.Post("/", vehicleHandler.Register)
				g.Put("/{id}/spot", vehicleHandler.AssignSpot)
				g.Put("/{id}/tariff", vehicleHandler.ChangeTariff)
				g.Post("/{id}/entry", sessionHandler.Entry)
			})
		})

		v.Route("/sessions", func(s chi.Router) {
			s.Get("/open", sessionHandler.ListOpen)
			s.Get("/history", sessionHandler.History)
			s.Get("/{id}/quote", sessionHandler.Quote)
			s.Group(func(g chi.Router) {
				g.Use(idem.Middleware, audited("session"))
				g.Post("/{id}/exit", sessionHandler.Exit)
				g.Delete("/{id}", sessionHandler.Delete)
			})
		})

		v.With(idem.Middleware, audited("billing_run")).Post("/billing/run", billingHandler.Run)

		v.Route("/invoices", func(inv chi.Router) {
			inv.Get("/", billingHandler.List)
			inv.Get("/{id}", billingHandler.Get)
			inv.Group(func(g chi.Router) {
				g.Use(idem.Middleware, audited("invoice"))
				g.Post("/", billingHandler.CreateManual)
				g.Post("/{id}/pay", billingHandler.Pay)
			})
		})

		v.Route("/reports", func(rep chi.Router) {
			rep.Get("/revenue", reportHandler.Revenue)
			rep.Get("/revenue.pdf", reportHandler.RevenuePDF)
			rep.Get("/occupancy", reportHandler.Occupancy)
			rep.Get("/occupancy.pdf", reportHandler.OccupancyPDF)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Get("/audit", auditHandler.List)
			admin.Get("/queue/dlq", queueAdmin.ListDLQ)
			admin.With(audited("dead_letter")).Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			admin.Get("/queue/stats", queueAdmin.Stats)
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
