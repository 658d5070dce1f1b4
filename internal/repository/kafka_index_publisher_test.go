package repository

import (
	"testing"

	"BondYield/internal/domain/models"

	"github.com/shopspring/decimal"
)

func TestFixingMessageKeyedByCode(t *testing.T) {
	m := fixingMessage(&models.IndexRate{Code: models.IndexMuniAAA, Date: may1, Rate: decimal.RequireFromString("0.05"), Source: "ws-feed"})
	if string(m.Key) != "MUNI_AAA" || m.Headers["source"] != "ws-feed" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m := fixingMessage(&models.IndexRate{Code: models.IndexUSTreasuryCMT}); m.Headers != nil {
		t.Fatalf("no source should mean no headers, got %v", m.Headers)
	}
}
