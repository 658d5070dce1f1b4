package models

import "errors"

var (
	// ErrNilBond is returned when a YTW computation is requested without a bond.
	ErrNilBond = errors.New("invalid argument: bond is nil")
	// ErrIndexNotFound is returned by index providers when no fixing exists for the date.
	ErrIndexNotFound = errors.New("index value not found")
	// ErrUnknownIndexCode is returned for series the provider does not carry.
	ErrUnknownIndexCode = errors.New("unknown index code")
	// ErrEngineUnavailable marks a failed round-trip to the yield engine.
	ErrEngineUnavailable = errors.New("yield engine unavailable")
)
