package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a bus message that could not be decoded. Such messages
// are acknowledged and skipped.
var ErrMalformed = errors.New("malformed notification")

// TransportError is a failure to receive from the message bus.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RefreshFailure is a failed LUT or ancillary cache update.
type RefreshFailure struct {
	Resource string
	ExitCode int
	Err      error
}

func (e *RefreshFailure) Error() string {
	return fmt.Sprintf("refresh %s failed (exit code %d): %v", e.Resource, e.ExitCode, e.Err)
}

func (e *RefreshFailure) Unwrap() error { return e.Err }

// ProcessingFailure is a failed SDR processing run for one granule.
type ProcessingFailure struct {
	Granule  string
	ExitCode int
	// Output is the tail of the command's combined stdout and stderr.
	Output []string
	Err    error
}

func (e *ProcessingFailure) Error() string {
	msg := fmt.Sprintf("processing granule %s failed (exit code %d): %v", e.Granule, e.ExitCode, e.Err)
	if len(e.Output) > 0 {
		msg += "\n" + strings.Join(e.Output, "\n")
	}
	return msg
}

func (e *ProcessingFailure) Unwrap() error { return e.Err }

// PublishFailure is a failed outbound dataset announcement.
type PublishFailure struct {
	Topic string
	Err   error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishFailure) Unwrap() error { return e.Err }
