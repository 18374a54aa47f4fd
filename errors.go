package lava

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the search core. Callers discriminate with
// errors.Is; storage transport errors pass through unwrapped.
var (
	// ErrInvalidInput marks an unusable request: empty file set, k = 0,
	// empty query, mismatched token/weight lengths.
	ErrInvalidInput = errors.New("lava: invalid input")

	// ErrParse marks a malformed index: bad trailer, zstd or sequence
	// decode failure, violated offset-table invariant.
	ErrParse = errors.New("lava: parse error")

	// ErrInconsistent marks an index set that cannot be queried together,
	// e.g. files embedding different tokenizers.
	ErrInconsistent = errors.New("lava: inconsistent index set")

	// ErrInternal marks a failure of the engine itself rather than of an
	// index or a backend.
	ErrInternal = errors.New("lava: internal error")
)

// errDataCorruption is the canonical invariant-violation error.
func errDataCorruption(detail string) error {
	return fmt.Errorf("%w: data corruption: %s", ErrParse, detail)
}

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func parseErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}
