package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/obs"
)

func TestHTTPMetricsUseRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("parkir", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Post("/sessions/{id}/exit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sessions/7f1c/exit", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/sessions/{id}/exit", "409")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("parkir", nil, registry)
	second := obs.NewHTTPMetrics("parkir", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10, 250}, obs.ParseBucketsCSV(" 250,5,x,-1,10,5 "))
	require.Empty(t, obs.ParseBucketsCSV(""))
}

func TestOperatorReachesHandlerLogger(t *testing.T) {
	var seen string
	h := obs.Operator(obs.RequestLogger{Logger: zerolog.Nop()}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = obs.OperatorFromContext(r.Context())
			require.NotNil(t, zerolog.Ctx(r.Context()))
			w.WriteHeader(http.StatusNoContent)
		})))

	req := httptest.NewRequest(http.MethodDelete, "/sessions/1", nil)
	req.Header.Set(obs.OperatorHeader, " op-12 ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "op-12", seen)
}
