// Package toolutil provides shared helper functions for go_transcript MCP tools.
package toolutil

import (
	"errors"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NormLang normalises a language field: trimmed, lower-case, "" stays "" (orchestrator default).
func NormLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// SplitVideos accepts ids/URLs separated by commas, spaces or newlines and drops duplicates.
func SplitVideos(list []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range list {
		for _, v := range strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		}) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// ErrorKind names the failure class of an orchestrator error for tool output.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrInvalidIdentifier):
		return "invalid_identifier"
	case errors.Is(err, engine.ErrAllBackendsExhausted):
		return "all_backends_exhausted"
	case errors.Is(err, engine.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, engine.ErrCancelled):
		return "cancelled"
	case engine.IsUnexpected(err):
		return "unexpected"
	}
	return "error"
}
