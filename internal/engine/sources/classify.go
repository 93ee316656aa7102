package sources

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/anatolykoptev/go-kit/strutil"
	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// statusError is a non-2xx HTTP response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, strutil.TruncateWith(e.Body, 160, "…"))
}

// failure is a classified backend failure raised inside a backend and turned into
// an Outcome at its boundary.
type failure struct {
	kind   engine.FailureKind
	reason string
}

func (f *failure) Error() string { return f.reason }

func terminalf(format string, args ...any) error {
	return &failure{kind: engine.FailureTerminal, reason: fmt.Sprintf(format, args...)}
}

func retryablef(format string, args ...any) error {
	return &failure{kind: engine.FailureRetryable, reason: fmt.Sprintf(format, args...)}
}

// classify decides whether err is worth retrying on the same backend.
func classify(err error) engine.FailureKind {
	var f *failure
	if errors.As(err, &f) {
		return f.kind
	}

	var se *statusError
	if errors.As(err, &se) {
		if engine.IsRetryableStatus(se.Code) {
			return engine.FailureRetryable
		}
		return engine.FailureTerminal
	}

	// Connection errors (dial failures, connection refused, etc.)
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return engine.FailureRetryable
	}

	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return engine.FailureRetryable
	}

	// Timeout errors (net.Error includes OpError, so check after OpError)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return engine.FailureRetryable
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return engine.FailureRetryable
	}
	return engine.FailureTerminal
}

// bugError marks a condition no retry or fallback can fix, such as a request
// that cannot be encoded. It escapes Extract as an error.
type bugError struct{ err error }

func (e *bugError) Error() string { return e.err.Error() }
func (e *bugError) Unwrap() error { return e.err }

// outcomeOf turns a backend's internal result into the Outcome contract.
// Classified failures become failed outcomes; only a bugError is returned as error.
func outcomeOf(id engine.VideoID, method, language string, entries []engine.Entry, err error) (engine.Outcome, error) {
	if err == nil {
		if len(entries) == 0 {
			return engine.Terminal(id, method, language, "empty transcript"), nil
		}
		return engine.Succeeded(id, method, language, entries), nil
	}
	var bug *bugError
	if errors.As(err, &bug) {
		return engine.Outcome{}, bug
	}
	if classify(err) == engine.FailureRetryable {
		return engine.Retryable(id, method, language, err.Error()), nil
	}
	return engine.Terminal(id, method, language, err.Error()), nil
}
