package domain

import "errors"

// Core pipeline errors. Callers wrap them with detail using %w and test with
// errors.Is.
var (
	ErrUnsupportedEncoding   = errors.New("unsupported encoding")
	ErrMalformedMessage      = errors.New("malformed message")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrShapeMismatch         = errors.New("shape mismatch")
	ErrDegenerateColumn      = errors.New("degenerate column")
	ErrOutOfRangeProbability = errors.New("probability out of range")
	ErrInvalidModelOutput    = errors.New("invalid model output")
)

// Storage errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// IsClientError reports whether err belongs to the scoring core taxonomy.
// The API answers these with 400; anything else is an infrastructure
// failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedEncoding) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrDegenerateColumn) ||
		errors.Is(err, ErrOutOfRangeProbability)
}
