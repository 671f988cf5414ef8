package obs

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// OperatorHeader carries the operator identity forwarded by the gateway.
const OperatorHeader = "X-Operator-ID"

type ctxKey int

const (
	routeKey ctxKey = iota
	operatorKey
)

// WithRoutePattern pins the route template reported for a request.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey, pattern)
}

// RoutePatternFromContext returns a pinned route template, if any.
func RoutePatternFromContext(ctx context.Context) string {
	v, _ := ctx.Value(routeKey).(string)
	return v
}

// WithOperator records the acting operator on ctx.
func WithOperator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operatorKey, id)
}

// OperatorFromContext returns the acting operator or "".
func OperatorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(operatorKey).(string)
	return v
}

// RouteOf reports the route template that served r. chi only knows the full
// pattern once routing has finished, so call it after next.ServeHTTP.
func RouteOf(r *http.Request) string {
	if p := RoutePatternFromContext(r.Context()); p != "" {
		return p
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// Operator copies the forwarded operator identity into the request context.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(OperatorHeader)); id != "" {
			r = r.WithContext(WithOperator(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
