// Package ckerr defines the engine's error-kind taxonomy (see spec §7) and
// wraps github.com/cockroachdb/errors to attach a kind to any error while
// keeping errors.Is/As and stack-trace capture intact.
package ckerr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies why an operation failed. Kinds are sentinel errors so
// callers classify with errors.Is(err, ckerr.Transient) etc.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

var (
	// InvalidArgument is caller-side; surfaced, never retried.
	InvalidArgument = Kind{"invalid_argument"}
	// NotFound is benign for cursor-based iterators; the caller decides.
	NotFound = Kind{"not_found"}
	// Corruption marks header/CRC/size failures; the cache store recovers
	// to an empty state and marks itself dirty.
	Corruption = Kind{"corruption"}
	// IoError is logged; the affected write retries on the next debounce
	// tick, loads fall through to rebuild.
	IoError = Kind{"io_error"}
	// Transient classifies a retryable download/load failure.
	Transient = Kind{"transient"}
	// Permanent classifies a non-retryable download/load failure.
	Permanent = Kind{"permanent"}
	// OutOfMemory marks a construction-path allocation failure.
	OutOfMemory = Kind{"out_of_memory"}
	// Timeout marks an explicit wait (shutdown, backpressure) expiring.
	Timeout = Kind{"timeout"}
)

// Wrap attaches kind to err with msg as context, capturing a stack trace.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(errors.Mark(err, kind), "%s", msg)
}

// New creates a new error of the given kind with a stack trace, with no
// wrapped cause.
func New(kind Kind, msg string) error {
	return errors.Mark(errors.Newf("%s", msg), kind)
}

// Newf is like New but with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// Is reports whether err (or any error it wraps) is marked with kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
