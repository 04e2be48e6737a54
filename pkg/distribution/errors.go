package distribution

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports a pass stopped by shutdown. It is never retried.
	ErrCancelled = errors.New("pass cancelled")

	// ErrSourceUnavailable reports that the raw-record source could not be opened or read.
	ErrSourceUnavailable = errors.New("record source unavailable")
)

// SourceError wraps an I/O failure of the raw-record source.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceUnavailable, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }
