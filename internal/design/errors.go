package design

import "errors"

var (
	// ErrOutOfRange is returned when protocol timing falls outside the
	// sample grid of the matrix.
	ErrOutOfRange = errors.New("interval outside sample grid")

	// ErrDuplicateColumn is returned when adding a second constant column.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrLengthMismatch is returned when a predictor's length differs from
	// the matrix's data point count.
	ErrLengthMismatch = errors.New("predictor length mismatch")

	// ErrNoDataPoints is returned by operations that need the matrix length
	// before any predictor defines it.
	ErrNoDataPoints = errors.New("design matrix has no data points")
)
