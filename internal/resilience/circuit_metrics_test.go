package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/resilience"
)

func stateOf(target string) float64 {
	return testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target))
}

func transitions(target, from, to string) float64 {
	return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, from, to))
}

func TestBreakerExportsEachStateChange(t *testing.T) {
	const target = "notify-webhook-metrics"
	ctx := context.Background()
	b := resilience.NewBreaker(1, 0.5, 15*time.Millisecond).WithTarget(target)

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, 1.0, stateOf(target), "single failure over threshold opens")
	require.False(t, b.Allow(ctx))

	require.Eventually(t, func() bool { return b.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, stateOf(target), "probe after cool-down is half-open")

	b.Report(ctx, true)
	require.Equal(t, 0.0, stateOf(target))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	require.Equal(t, 1.0, transitions(target, "closed", "open"))
	require.Equal(t, 1.0, transitions(target, "open", "half_open"))
	require.Equal(t, 1.0, transitions(target, "half_open", "closed"))
}
