package etf

import "github.com/pkg/errors"

// DecodeError is the sole error kind surfaced for malformed tags,
// truncated input, oversized bignums, forbidden non-zero pad bits and
// compressed-size mismatches (spec.md §7, kind 1).
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "etf: decode error: " + e.Reason
}

func newDecodeError(reason string) error {
	return errors.WithStack(&DecodeError{Reason: reason})
}

func newDecodeErrorf(format string, args ...interface{}) error {
	return errors.WithStack(&DecodeError{Reason: errors.Errorf(format, args...).Error()})
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
