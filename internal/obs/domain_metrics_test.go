package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/obs"
)

func TestDomainMetricsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("parkir", registry)

	obs.ObserveSession("opened")
	obs.ObserveSession("opened")
	obs.ObserveInvoice("created", "periodic")
	obs.ObserveBillingVehicle("skipped", 3)
	obs.ObserveBillingVehicle("failed", 0)
	obs.ObserveNotification("webhook", "success", 15*time.Millisecond)
	obs.ObserveOutboxRelayed(4)
	obs.ObserveReportCache("revenue", "miss")

	require.Equal(t, 2.0, testutil.ToFloat64(obs.SessionEventsTotal.WithLabelValues("opened")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.InvoiceEventsTotal.WithLabelValues("created", "periodic")))
	require.Equal(t, 3.0, testutil.ToFloat64(obs.BillingVehiclesTotal.WithLabelValues("skipped")))
	require.Equal(t, 0.0, testutil.ToFloat64(obs.BillingVehiclesTotal.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.NotificationDeliveriesTotal.WithLabelValues("webhook", "success")))
	require.Equal(t, 4.0, testutil.ToFloat64(obs.OutboxRelayedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.ReportCacheTotal.WithLabelValues("revenue", "miss")))
}
