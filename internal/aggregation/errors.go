package aggregation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed is the single failure category surfaced by Request, Submit and the
	// typed wrappers. The underlying cause stays reachable through errors.Is / errors.As.
	ErrRequestFailed = errors.New("request failed")

	ErrAggregationTimeout = errors.New("aggregation timeout")
	ErrNotStarted         = errors.New("orchestrator not started")
	ErrDuplicateEntry     = errors.New("duplicate entry")
	ErrNotFound           = errors.New("not found")
	ErrStillComputing     = errors.New("still computing")
)

// TransportError reports a send or subscribe failure against one destination.
type TransportError struct {
	Op          string
	Destination string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %q: %v", e.Op, e.Destination, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedMessageError is raised when an inbound contribution cannot be decoded.
// The listener drops such messages; typed request wrappers surface it.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err == nil {
		return "malformed message: " + e.Reason
	}
	return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func requestFailed(err error) error {
	if err == nil || errors.Is(err, ErrRequestFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRequestFailed, err)
}

func isTimeout(err error) bool { return errors.Is(err, ErrAggregationTimeout) }

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
