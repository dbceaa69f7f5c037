package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeySubject
)

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// SubjectFromContext returns the verified token subject, if auth is on.
func SubjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySubject).(string)
	return v
}

type statusRecorder struct {
	h  http.ResponseWriter
	st int
	n  int
}

func (w *statusRecorder) Header() http.Header { return w.h.Header() }
func (w *statusRecorder) WriteHeader(code int) {
	w.st = code
	w.h.WriteHeader(code)
}
func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.h.Write(b)
	w.n += n
	return n, err
}

func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{h: w, st: 200}
		next.ServeHTTP(sr, r)
		lat := time.Since(start)
		obs.Logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.st,
			"bytes", sr.n,
			"latency_ms", float64(lat.Microseconds())/1000.0,
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// WithAuth guards /cart/{ownerId}/... with an HS256 bearer token whose subject
// must equal ownerId. An empty secret disables the check.
func WithAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := cartOwner(r.URL.EscapedPath())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			tok, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || strings.TrimSpace(tok) == "" {
				WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			sub, err := identity.ParseToken(secret, strings.TrimSpace(tok))
			if err != nil {
				WriteJSONError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			if sub != owner {
				obs.Logger.Warn("cart_access_denied", "subject", sub, "owner_id", owner, "request_id", RequestIDFromContext(r.Context()))
				WriteJSONError(w, http.StatusForbidden, "forbidden", "token subject does not own this cart")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySubject, sub)))
		})
	}
}

func cartOwner(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/cart/")
	if !ok {
		return "", false
	}
	seg, _, _ := strings.Cut(rest, "/")
	owner, err := url.PathUnescape(seg)
	if err != nil || owner == "" {
		return "", false
	}
	return owner, true
}
