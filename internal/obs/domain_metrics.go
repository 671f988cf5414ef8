package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionEventsTotal counts session lifecycle transitions (opened, closed, deleted, flagged).
	SessionEventsTotal *prometheus.CounterVec
	// InvoiceEventsTotal counts invoice lifecycle transitions by source.
	InvoiceEventsTotal *prometheus.CounterVec
	// BillingVehiclesTotal counts per-vehicle generator outcomes.
	BillingVehiclesTotal *prometheus.CounterVec
	// BillingRunDuration records fleet-wide generator run latency in milliseconds.
	BillingRunDuration prometheus.Histogram
	// NotificationDeliveriesTotal tracks notification sink outcomes.
	NotificationDeliveriesTotal *prometheus.CounterVec
	// NotificationAttemptLatency records delivery attempt latency in milliseconds.
	NotificationAttemptLatency *prometheus.HistogramVec
	// OutboxRelayedTotal counts events moved from the outbox onto the queue.
	OutboxRelayedTotal prometheus.Counter
	// ReportCacheTotal counts report cache lookups by outcome.
	ReportCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Count of parking session transitions.",
		}, []string{"event"})
		InvoiceEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_events_total",
			Help:      "Count of invoice transitions by source.",
		}, []string{"event", "source"})
		BillingVehiclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_vehicles_total",
			Help:      "Per-vehicle outcomes of the periodic billing generator.",
		}, []string{"result"})
		BillingRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_run_duration_ms",
			Help:      "Latency of fleet-wide billing runs in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		})
		NotificationDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Count of notification delivery outcomes.",
		}, []string{"sink", "result"})
		NotificationAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_attempt_duration_ms",
			Help:      "Latency for notification delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		OutboxRelayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Number of outbox events handed to the notification queue.",
		})
		ReportCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_total",
			Help:      "Report cache lookups by outcome.",
		}, []string{"report", "result"})

		SessionEventsTotal = register(reg, SessionEventsTotal)
		InvoiceEventsTotal = register(reg, InvoiceEventsTotal)
		BillingVehiclesTotal = register(reg, BillingVehiclesTotal)
		BillingRunDuration = register(reg, BillingRunDuration)
		NotificationDeliveriesTotal = register(reg, NotificationDeliveriesTotal)
		NotificationAttemptLatency = register(reg, NotificationAttemptLatency)
		OutboxRelayedTotal = register(reg, OutboxRelayedTotal)
		ReportCacheTotal = register(reg, ReportCacheTotal)
	})
}

// ObserveSession records a session transition when metrics are registered.
func ObserveSession(event string) {
	if SessionEventsTotal != nil {
		SessionEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveInvoice records an invoice transition.
func ObserveInvoice(event, source string) {
	if InvoiceEventsTotal != nil {
		InvoiceEventsTotal.WithLabelValues(event, source).Inc()
	}
}

// ObserveBillingVehicle records the outcome of billing one vehicle.
func ObserveBillingVehicle(result string, n int) {
	if BillingVehiclesTotal != nil && n > 0 {
		BillingVehiclesTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObserveBillingRun records the duration of a fleet-wide run.
func ObserveBillingRun(d time.Duration) {
	if BillingRunDuration != nil {
		BillingRunDuration.Observe(DurationMillis(d))
	}
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(sink, result string, d time.Duration) {
	if NotificationDeliveriesTotal != nil {
		NotificationDeliveriesTotal.WithLabelValues(sink, result).Inc()
	}
	if NotificationAttemptLatency != nil {
		NotificationAttemptLatency.WithLabelValues(result).Observe(DurationMillis(d))
	}
}

// ObserveOutboxRelayed adds n relayed events.
func ObserveOutboxRelayed(n int) {
	if OutboxRelayedTotal != nil && n > 0 {
		OutboxRelayedTotal.Add(float64(n))
	}
}

// ObserveReportCache records a cache hit or miss.
func ObserveReportCache(report, result string) {
	if ReportCacheTotal != nil {
		ReportCacheTotal.WithLabelValues(report, result).Inc()
	}
}
