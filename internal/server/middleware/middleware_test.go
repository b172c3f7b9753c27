package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	h := Auth(AuthConfig{})(okHandler)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/pools/p1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthPlainKey(t *testing.T) {
	h := Auth(AuthConfig{APIKey: "s3cret", PublicPaths: []string{"/health"}})(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing token", "/pools/p1", nil, http.StatusUnauthorized},
		{"wrong bearer", "/pools/p1", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/pools/p1", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bearer lowercase scheme", "/pools/p1", map[string]string{"Authorization": "bearer s3cret"}, http.StatusOK},
		{"x-api-key", "/pools/p1", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"basic scheme ignored", "/pools/p1", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"public path", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", errorCode(t, rec))
			}
		})
	}
}

func TestAuthBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := Auth(AuthConfig{APIKeyHash: string(hash)})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/pools/p1", nil)
	req.Header.Set("X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/pools/p1", nil)
	req.Header.Set("X-API-Key", "other")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/pools/?pool_id=p1", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	id := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, seen)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, id, line["request_id"])
	assert.Equal(t, float64(http.StatusCreated), line["status"])
	assert.Equal(t, "pool_id=p1", line["query"])
}

func TestLoggingReusesIncomingRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger)(okHandler)

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	assert.Equal(t, incoming, serve(h, req).Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\nforged")
	assert.NotEqual(t, "not-a-uuid\nforged", serve(h, req).Header().Get(RequestIDHeader))
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	limiter := &stubLimiter{allowed: false}
	h := RateLimit(limiter, 10, 2500*time.Millisecond, proxies, logger)(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/pools/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorCode(t, rec))
	assert.Equal(t, []string{"api:203.0.113.7"}, limiter.keys)

	limiter = &stubLimiter{allowed: true}
	h = RateLimit(limiter, 10, time.Second, nil, logger)(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/pools/", nil)).Code)

	limiter = &stubLimiter{err: errors.New("redis down")}
	h = RateLimit(limiter, 10, time.Second, nil, logger)(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/pools/", nil)).Code)
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := &stubLimiter{allowed: true}
	h := RateLimit(limiter, 10, time.Second, nil, logger)(okHandler)

	for _, spoofed := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		req := httptest.NewRequest(http.MethodGet, "/pools/", nil)
		req.RemoteAddr = "192.0.2.9:1234"
		req.Header.Set("X-Forwarded-For", spoofed)
		req.Header.Set("X-Real-IP", spoofed)
		serve(h, req)
	}
	assert.Equal(t, []string{"api:192.0.2.9", "api:192.0.2.9", "api:192.0.2.9"}, limiter.keys)
}

func TestExtractClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", extractClientIP(req, proxies))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", extractClientIP(req, proxies))
	assert.Equal(t, "192.0.2.1", extractClientIP(req, nil))

	// The nearest untrusted hop wins; a forged leftmost entry is ignored.
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.5, 10.1.2.3")
	assert.Equal(t, "203.0.113.5", extractClientIP(req, proxies))

	req.RemoteAddr = "203.0.113.9:80"
	assert.Equal(t, "203.0.113.9", extractClientIP(req, proxies))
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 32, got[1].Bits())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/pools/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/pools/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/pools/", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
