package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(&Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestLoggerWritesServiceAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "DEBUG", Output: path, Service: "bondyield"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("ytw computed",
		String("cusip", "123456AB7"),
		Duration("elapsed_ms", 1500*time.Millisecond),
		Date("settlement", time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)),
		Strings("codes", []string{"MUNI_AAA", "USTR_CMT"}),
		Error(errors.New("boom")),
	)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	if ev["service"] != "bondyield" || ev["cusip"] != "123456AB7" || ev["settlement"] != "2024-05-01" {
		t.Fatalf("unexpected event %v", ev)
	}
	if ev["elapsed_ms"] != float64(1500) || ev["error"] != "boom" {
		t.Fatalf("unexpected event %v", ev)
	}
	if codes, ok := ev["codes"].([]interface{}); !ok || len(codes) != 2 {
		t.Fatalf("codes should be an array, got %v", ev["codes"])
	}
}

func TestFieldCollectorValues(t *testing.T) {
	if _, v := Error(nil).GetKeyValue(); v != nil {
		t.Fatalf("nil error should collect as nil, got %v", v)
	}
	if k, v := Duration("wait", 2*time.Second).GetKeyValue(); k != "wait" || v != int64(2000) {
		t.Fatalf("got %s=%v", k, v)
	}
	if _, v := Stringer("rate", nil).GetKeyValue(); v != "<nil>" {
		t.Fatalf("got %v", v)
	}
}
