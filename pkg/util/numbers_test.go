package util

import "testing"

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("expected default on garbage, got %d", got)
	}
	if got := ParseIntDefault("42", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("0.05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "0.05" {
		t.Fatalf("unexpected value %s", d)
	}
	z, err := ParseDecimal("")
	if err != nil || !z.IsZero() {
		t.Fatalf("expected zero for empty input, got %s (%v)", z, err)
	}
	if _, err := ParseDecimal("five"); err == nil {
		t.Fatalf("expected error")
	}
}
