package protocol

import "errors"

var (
	// ErrUnitMismatch is returned when conditions or protocols declaring
	// different time units are combined.
	ErrUnitMismatch = errors.New("time unit mismatch")

	// ErrInvalidState is returned for a unit conversion into the unit the
	// protocol already uses.
	ErrInvalidState = errors.New("invalid protocol state")

	// ErrInvalidInterval is returned for an interval whose start is after
	// its end.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInexactConversion is returned by the reject rounding policy when a
	// millisecond value does not fall on the volume grid.
	ErrInexactConversion = errors.New("inexact unit conversion")

	// ErrInvalidTR is returned for a non-positive repetition time.
	ErrInvalidTR = errors.New("repetition time must be positive")

	// ErrUnknownUnit is returned for a time unit tag other than Volumes or msec.
	ErrUnknownUnit = errors.New("unknown time unit")
)
