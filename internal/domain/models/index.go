package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IndexCode names a benchmark rate series.
type IndexCode string

const (
	// IndexUSTreasuryCMT is the U.S. Treasury constant-maturity series.
	IndexUSTreasuryCMT IndexCode = "USTR_CMT"
	// IndexMuniAAA is the municipal AAA curve.
	IndexMuniAAA IndexCode = "MUNI_AAA"
)

// KnownIndexCodes lists every series the service can store and serve.
var KnownIndexCodes = []IndexCode{IndexUSTreasuryCMT, IndexMuniAAA}

// IsKnown reports whether c is one of KnownIndexCodes.
func (c IndexCode) IsKnown() bool {
	for _, k := range KnownIndexCodes {
		if c == k {
			return true
		}
	}
	return false
}

// IndexRate is one daily fixing of a benchmark series.
type IndexRate struct {
	Code   IndexCode       `json:"code"`
	Date   time.Time       `json:"date"`
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source,omitempty"`
}
