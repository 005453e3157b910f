package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRejectionContract(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	h := Middleware(l, Limit{Window: time.Minute, MaxRequests: 1})(okHandler())

	first := doRequest(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var body struct {
		Error             string `json:"error"`
		Code              string `json:"code"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Code)
	assert.NotEmpty(t, body.Error)
	assert.Greater(t, body.RetryAfterSeconds, 0)
}

func TestMiddlewareSeparatesClients(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	h := Middleware(l, Limit{Window: time.Minute, MaxRequests: 1})(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:9999").Code, "same ip shares the budget")
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1234").Code, "different ip gets its own")
}

func TestMiddlewareCompositeKeySeparatesSubjects(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	h := Middleware(l, Limit{Window: time.Minute, MaxRequests: 1})(okHandler())

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if subject != "" {
			req = req.WithContext(WithSubject(req.Context(), subject))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusOK, send("u2"), "another user behind the same ip is not penalized")
}

func TestMiddlewareForwardedForWins(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	h := Middleware(l, Limit{Window: time.Minute, MaxRequests: 1}, WithKeyFunc(IPKey))(okHandler())

	send := func(fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.7, 10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7"))
	assert.Equal(t, http.StatusOK, send("203.0.113.8"))
}

func TestMiddlewareCountFailuresOnly(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ok") == "1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	h := Middleware(l, Limit{Window: time.Minute, MaxRequests: 2}, CountFailuresOnly())(failing)

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Successful requests never consume budget.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("/?ok=1"))
	}

	assert.Equal(t, http.StatusUnauthorized, send("/"))
	assert.Equal(t, http.StatusUnauthorized, send("/"))
	assert.Equal(t, http.StatusTooManyRequests, send("/"), "failures exhaust the budget")
}
