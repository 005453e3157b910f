package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/talentflow/orchestrator/pkg/logger"
)

// Named admission policies for the API surface.
var (
	// GeneralLimit covers the regular API endpoints.
	GeneralLimit = Limit{Window: time.Minute, MaxRequests: 100, Message: "Too many requests. Please slow down."}
	// AILimit covers endpoints that fan into the analysis provider.
	AILimit = Limit{Window: time.Minute, MaxRequests: 20, Message: "Too many AI requests. Please wait a moment."}
	// WebhookLimit covers provider callback ingress.
	WebhookLimit = Limit{Window: time.Minute, MaxRequests: 50, Message: "Too many webhook deliveries. Please slow down."}
)

// KeyFunc derives the admission key for a request.
type KeyFunc func(*http.Request) string

type ctxKey int

const subjectKey ctxKey = 0

// WithSubject attaches the authenticated caller id so composite keys
// can scope limits per user instead of per address.
func WithSubject(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subjectKey, id)
}

func subjectFrom(r *http.Request) string {
	if id, ok := r.Context().Value(subjectKey).(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// IPKey keys on the client address only. For pre-auth endpoints.
func IPKey(r *http.Request) string {
	return clientIP(r)
}

// CompositeKey keys on address plus authenticated caller.
func CompositeKey(r *http.Request) string {
	return clientIP(r) + ":" + subjectFrom(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type middlewareOptions struct {
	key          KeyFunc
	failuresOnly bool
}

// MiddlewareOption tunes the admission middleware.
type MiddlewareOption func(*middlewareOptions)

// WithKeyFunc replaces the composite key derivation.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(o *middlewareOptions) { o.key = fn }
}

// CountFailuresOnly defers counting until the response settles and only
// charges requests that failed. Useful on auth-shaped endpoints where
// successful traffic shouldn't eat the budget.
func CountFailuresOnly() MiddlewareOption {
	return func(o *middlewareOptions) { o.failuresOnly = true }
}

type rejectionBody struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RetryAfter        int    `json:"retryAfter"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// Middleware enforces a Limit in front of a handler. Every response
// carries the X-RateLimit headers; rejections get HTTP 429 with a
// machine-readable body.
func Middleware(limiter *Limiter, limit Limit, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{key: CompositeKey}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := o.key(r)

			var res Result
			if o.failuresOnly {
				res = limiter.Inspect(key, limit)
			} else {
				res = limiter.Check(key, limit)
			}

			setHeaders(w, res)
			if !res.Allowed {
				reject(w, key, limit, res)
				return
			}

			if o.failuresOnly {
				ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
				next.ServeHTTP(ww, r)
				if ww.Status() >= http.StatusBadRequest {
					limiter.Record(key, limit)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
}

func reject(w http.ResponseWriter, key string, limit Limit, res Result) {
	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	msg := limit.Message
	if msg == "" {
		msg = "You're making requests too quickly. Please slow down and try again."
	}

	logger.Log.Warn().
		Str("key", key).
		Int("limit", limit.MaxRequests).
		Msg("Rate limit exceeded")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(rejectionBody{
		Error:             msg,
		Code:              "RATE_LIMIT_EXCEEDED",
		RetryAfter:        retryAfter,
		RetryAfterSeconds: retryAfter,
	})
}
