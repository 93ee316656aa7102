package engine

import (
	"fmt"
	"strings"
)

// PlainText joins entry texts with single spaces.
func (o Outcome) PlainText() string {
	var sb strings.Builder
	for _, e := range o.Entries {
		t := strings.TrimSpace(e.Text)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t)
	}
	return sb.String()
}

// SRT renders the transcript as SubRip subtitles.
func (o Outcome) SRT() string {
	var sb strings.Builder
	for i, e := range o.Entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n", i+1, subTime(e.Start, ','), subTime(e.End(), ','), e.Text)
	}
	return sb.String()
}

// VTT renders the transcript as WebVTT.
func (o Outcome) VTT() string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n")
	for _, e := range o.Entries {
		fmt.Fprintf(&sb, "\n%s --> %s\n%s\n", subTime(e.Start, '.'), subTime(e.End(), '.'), e.Text)
	}
	return sb.String()
}

// Render formats the transcript as "text", "srt", "vtt"; anything else is an error.
func (o Outcome) Render(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "text", "plain":
		return o.PlainText(), nil
	case "srt":
		return o.SRT(), nil
	case "vtt", "webvtt":
		return o.VTT(), nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

// subTime formats seconds as HH:MM:SS<sep>mmm.
func subTime(seconds float64, sep byte) string {
	ms := int64(seconds*1000 + 0.5)
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}
