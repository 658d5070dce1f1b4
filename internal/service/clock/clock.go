package clock

import (
	"time"

	drepo "BondYield/internal/domain/repository"
)

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Useful for replays and tests.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }

var (
	_ drepo.TimeSource = System{}
	_ drepo.TimeSource = Fixed{}
)
