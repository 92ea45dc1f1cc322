package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinica/turnos/internal/platform/auth"
)

func rateLimitedCall(t *testing.T, e *echo.Echo, h echo.HandlerFunc, ip string, sess *auth.Session) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	if sess != nil {
		req = req.WithContext(auth.WithSession(req.Context(), *sess))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func expectTooMany(t *testing.T, err error) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		rec, err := rateLimitedCall(t, e, h, "10.0.0.1", nil)
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		if _, err := rateLimitedCall(t, e, h, "10.0.0.1", nil); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	rec, err := rateLimitedCall(t, e, h, "10.0.0.1", nil)
	expectTooMany(t, err)
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if _, err := rateLimitedCall(t, e, h, "10.0.0.1", nil); err != nil {
		t.Fatal(err)
	}
	_, err := rateLimitedCall(t, e, h, "10.0.0.1", nil)
	expectTooMany(t, err)

	if _, err := rateLimitedCall(t, e, h, "10.0.0.2", nil); err != nil {
		t.Errorf("another address should have its own bucket: %v", err)
	}
}

func TestRateLimit_KeyedBySession(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	ana := &auth.Session{ID: "42", Role: auth.RolePatient}
	luis := &auth.Session{ID: "43", Role: auth.RolePatient}

	if _, err := rateLimitedCall(t, e, h, "10.0.0.1", ana); err != nil {
		t.Fatal(err)
	}
	// Same patient from another address shares the bucket.
	_, err := rateLimitedCall(t, e, h, "10.0.0.9", ana)
	expectTooMany(t, err)

	// Another patient behind the same address does not.
	if _, err := rateLimitedCall(t, e, h, "10.0.0.1", luis); err != nil {
		t.Errorf("expected a separate bucket per session: %v", err)
	}
}

func TestLimiterStore_EvictsIdle(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.get("a")
	s.get("b")
	if s.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", s.size())
	}

	now = now.Add(30 * time.Second)
	s.get("b")
	now = now.Add(2 * time.Minute)
	s.get("c")

	if s.size() != 1 {
		t.Errorf("expected idle limiters to be dropped, have %d", s.size())
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 || cfg.IdleTTL <= 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
