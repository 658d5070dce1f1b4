package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xhttp "BondYield/pkg/http"

	"github.com/labstack/echo/v4"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestLimiter() (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clk.now
	return l, clk
}

func TestAllowConsumesAndRefills(t *testing.T) {
	l, clk := newTestLimiter()
	for i := 0; i < 3; i++ {
		if !l.Allow("a", 3, 1) {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("a", 3, 1) {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("b", 3, 1) {
		t.Fatalf("other keys have their own bucket")
	}
	clk.t = clk.t.Add(1500 * time.Millisecond)
	if !l.Allow("a", 3, 1) {
		t.Fatalf("expected one token after refill")
	}
	if l.Allow("a", 3, 1) {
		t.Fatalf("only half a token should remain")
	}
	clk.t = clk.t.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("a", 3, 1) {
			t.Fatalf("refill must cap at capacity, request %d", i)
		}
	}
	if l.Allow("a", 3, 1) {
		t.Fatalf("refill exceeded capacity")
	}
}

func TestPrune(t *testing.T) {
	l, clk := newTestLimiter()
	l.Allow("old", 1, 1)
	clk.t = clk.t.Add(10 * time.Minute)
	l.Allow("new", 1, 1)
	if n := l.Prune(5 * time.Minute); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, ok := l.m["new"]; !ok {
		t.Fatalf("recent bucket was pruned")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	e := echo.New()
	l, _ := newTestLimiter()
	e.Use(Middleware(l, 0, 2))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestMiddlewareRejectionCarriesRetryAfter(t *testing.T) {
	e := echo.New()
	l, _ := newTestLimiter()
	e.Use(Middleware(l, 0.5, 1))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	var rec *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("status=%d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
	var body struct {
		Data []xhttp.AppError `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Data) != 1 {
		t.Fatalf("decode: %v %s", err, rec.Body)
	}
	if body.Data[0].Code != xhttp.CodeRateLimited || body.Data[0].Params["retry_after_seconds"] != float64(2) {
		t.Fatalf("unexpected error %+v", body.Data[0])
	}
}
