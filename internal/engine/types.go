package engine

import (
	"context"
	"time"
)

// --- Core transcript types ---

// VideoID is a validated platform video identifier. Build one with Normalize.
type VideoID string

func (id VideoID) String() string { return string(id) }

// Entry is one captioned or spoken unit of a transcript.
type Entry struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`    // seconds
	Duration float64 `json:"duration"` // seconds
}

// End returns Start + Duration.
func (e Entry) End() float64 { return e.Start + e.Duration }

// FailureKind classifies why a backend did not produce a transcript.
type FailureKind int

const (
	FailureNone      FailureKind = iota
	FailureRetryable             // transient: network, rate limit, quota
	FailureTerminal              // permanent for this backend: disabled, not found, unsupported language
)

func (k FailureKind) String() string {
	switch k {
	case FailureRetryable:
		return "retryable"
	case FailureTerminal:
		return "terminal"
	}
	return "none"
}

// Outcome is the result of one extraction attempt or of a whole orchestrated call.
// Treat it as a value: Entries must not be modified after construction.
type Outcome struct {
	VideoID  VideoID       `json:"video_id"`
	Entries  []Entry       `json:"entries"`
	Method   string        `json:"method"`
	Language string        `json:"language"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Failure  FailureKind   `json:"-"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Succeeded builds a successful outcome. Entries are copied.
func Succeeded(id VideoID, method, language string, entries []Entry) Outcome {
	return Outcome{
		VideoID:  id,
		Entries:  cloneEntries(entries),
		Method:   method,
		Language: language,
		Success:  true,
	}
}

// Retryable builds a failed outcome worth retrying on the same backend.
func Retryable(id VideoID, method, language, reason string) Outcome {
	return Outcome{VideoID: id, Method: method, Language: language, Error: reason, Failure: FailureRetryable}
}

// Terminal builds a failed outcome that the same backend cannot recover from.
func Terminal(id VideoID, method, language, reason string) Outcome {
	return Outcome{VideoID: id, Method: method, Language: language, Error: reason, Failure: FailureTerminal}
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}

// Descriptor is static metadata about a backend.
type Descriptor struct {
	Name        string  `json:"name"`
	Paid        bool    `json:"paid"`
	Credentials bool    `json:"needs_credentials"`
	CostPerMin  float64 `json:"cost_per_min"` // USD hint for selection policies, never enforced
}

// Backend extracts a transcript for a video.
//
// Expected failures are reported through the returned Outcome (Success=false,
// Failure and Error set). A non-nil error means something unexpected happened and
// aborts the whole fallback chain.
type Backend interface {
	Extract(ctx context.Context, id VideoID, language string) (Outcome, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, id VideoID, language string) (Outcome, error)

func (f BackendFunc) Extract(ctx context.Context, id VideoID, language string) (Outcome, error) {
	return f(ctx, id, language)
}

// --- Batch types ---

// Request is one item of a batch call.
type Request struct {
	Video    string `json:"video"`
	Language string `json:"language,omitempty"`
}

// BatchResult pairs a request with its outcome. Err follows the same taxonomy as Get.
type BatchResult struct {
	Request Request `json:"request"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// ProgressFunc is called after each batch item completes.
type ProgressFunc func(done, total int, r BatchResult)
