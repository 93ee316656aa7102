package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy returned by Orchestrator.Get. Use errors.Is / errors.As.
var (
	ErrInvalidIdentifier    = errors.New("invalid video identifier")
	ErrAllBackendsExhausted = errors.New("all backends exhausted")
	ErrCancelled            = errors.New("cancelled")
	ErrTimedOut             = errors.New("timed out")
	ErrNoBackends           = errors.New("no backends configured")
)

// BackendFailure is the last failure recorded for one backend during a call.
type BackendFailure struct {
	Backend string
	Kind    FailureKind
	Reason  string
}

// ExhaustedError lists every backend tried and why it gave up.
type ExhaustedError struct {
	Language string
	Failures []BackendFailure
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrAllBackendsExhausted.Error())
	if e.Language != "" {
		fmt.Fprintf(&sb, " (language %s)", e.Language)
	}
	for i, f := range e.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %s", f.Backend, f.Reason)
	}
	return sb.String()
}

func (e *ExhaustedError) Unwrap() error { return ErrAllBackendsExhausted }

// UnexpectedError is a failure a backend could not classify. It stops the chain.
type UnexpectedError struct {
	Backend string
	Err     error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error from %s: %v", e.Backend, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// IsUnexpected reports whether err carries an UnexpectedError.
func IsUnexpected(err error) bool {
	var ue *UnexpectedError
	return errors.As(err, &ue)
}
