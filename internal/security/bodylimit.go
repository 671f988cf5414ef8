package security

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/noah-isme/parkir-api/internal/common"
)

// DefaultMaxBody bounds JSON payloads on the operator API.
const DefaultMaxBody int64 = 1 << 20

// BodyLimit buffers request bodies up to Max bytes so handlers never see a
// truncated payload. Oversized requests are answered with 413 before the
// handler, and therefore before any idempotency key is spent.
type BodyLimit struct {
	Max int64
}

// Middleware enforces the limit. A non-positive Max disables it.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			b.reject(w)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		_ = r.Body.Close()
		switch {
		case err != nil:
			common.WriteError(w, common.InvalidInput("INVALID_BODY", "unreadable request body"))
			return
		case int64(len(buf)) > b.Max:
			b.reject(w)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func (b BodyLimit) reject(w http.ResponseWriter) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, common.KindInvalidInput, "PAYLOAD_TOO_LARGE",
		fmt.Sprintf("request body exceeds %d bytes", b.Max), nil)
}
