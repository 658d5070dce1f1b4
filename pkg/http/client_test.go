package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestSendAndParseDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" || r.Header.Get("User-Agent") != "bondyield" {
			t.Errorf("unexpected headers %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("json body without content type")
		}
		if r.URL.Query().Get("code") != "MUNI_AAA" {
			t.Errorf("query not sent: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"ytw":"0.0612"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second), WithHeader("User-Agent", "bondyield"))
	var out struct {
		Ytw string `json:"ytw"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      http.MethodPost,
		URL:         srv.URL,
		QueryParams: url.Values{"code": {"MUNI_AAA"}},
		Body:        map[string]string{"cusip": "123456AB7"},
	}, &out)
	if err != nil || out.Ytw != "0.0612" {
		t.Fatalf("err=%v out=%+v", err, out)
	}
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("engine warming up\n"))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: http.MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "engine warming up" || se.RetryAfter != 3*time.Second || !se.Temporary() {
		t.Fatalf("unexpected status error %+v", se)
	}
	if (&StatusError{Code: http.StatusUnprocessableEntity}).Temporary() {
		t.Fatalf("4xx must not be temporary")
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"2":                             2 * time.Second,
		" 1 ":                           time.Second,
		"-1":                            0,
		"soon":                          0,
		"Wed, 21 Oct 2015 07:28:30 GMT": 30 * time.Second,
		"Wed, 21 Oct 2015 07:27:00 GMT": 0,
	}
	for in, want := range cases {
		if got := retryAfter(in, now); got != want {
			t.Fatalf("retryAfter(%q) = %v want %v", in, got, want)
		}
	}
}

func TestSendAndParseRawBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	var raw []byte
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   json.RawMessage(`{"cusip":"123456AB7"}`),
	}, &raw)
	if err != nil || string(raw) != `{"cusip":"123456AB7"}` {
		t.Fatalf("raw body not passed through: %q err=%v", raw, err)
	}
	if err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: http.MethodGet, URL: srv.URL}, nil); err != nil {
		t.Fatalf("nil dest: %v", err)
	}
}
