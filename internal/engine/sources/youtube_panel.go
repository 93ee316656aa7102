package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NamePanel is the engagement panel backend: /next, then /get_transcript.
const NamePanel = "youtube_panel"

// getTranscriptRE extracts the continuation token from a raw /next JSON response.
var getTranscriptRE = regexp.MustCompile(`"getTranscriptEndpoint":\{"params":"([^"]+)"`)

// PanelBackend fetches the transcript shown in the watch page side panel.
// Works from datacenter IPs where /player returns LOGIN_REQUIRED.
type PanelBackend struct {
	BaseURL string
	Client  *http.Client
}

func (b *PanelBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, err := b.fetch(ctx, id, lang)
	return outcomeOf(id, NamePanel, lang, entries, err)
}

func (b *PanelBackend) fetch(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, error) {
	base := coalesce(b.BaseURL, ytBaseURL)
	visitorData := generateVisitorData()
	headers := webHeaders(visitorData)

	nextData, err := postJSON(ctx, b.Client, base+ytNextPath, map[string]any{
		"videoId": id.String(),
		"context": webContext(visitorData, lang),
	}, headers)
	if err != nil {
		return nil, fmt.Errorf("/next: %w", err)
	}
	token, err := extractTranscriptToken(nextData)
	if err != nil {
		return nil, err
	}

	data, err := postJSON(ctx, b.Client, base+ytGetTranscriptPath, map[string]any{
		"params":  token,
		"context": webContext(visitorData, lang),
	}, headers)
	if err != nil {
		return nil, fmt.Errorf("/get_transcript: %w", err)
	}
	var resp getTranscriptResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, terminalf("decode transcript: %v", err)
	}
	return panelEntries(resp), nil
}

func extractTranscriptToken(data []byte) (string, error) {
	m := getTranscriptRE.FindSubmatch(data)
	if len(m) < 2 {
		return "", terminalf("getTranscriptEndpoint not found in engagement panels")
	}
	// The params value in the /next JSON response is URL-encoded.
	// /get_transcript expects the decoded (raw base64) form.
	decoded, err := url.QueryUnescape(string(m[1]))
	if err != nil {
		return string(m[1]), nil
	}
	return decoded, nil
}

// panelEntries converts /get_transcript segments into entries. Segment times are in ms.
func panelEntries(resp getTranscriptResp) []engine.Entry {
	var entries []engine.Entry
	for _, action := range resp.Actions {
		if action.UpdateEngagementPanelAction == nil {
			continue
		}
		segs := action.UpdateEngagementPanelAction.Content.
			TranscriptRenderer.Content.
			TranscriptSearchPanelRenderer.Body.
			TranscriptSegmentListRenderer.InitialSegments
		for _, seg := range segs {
			r := seg.TranscriptSegmentRenderer
			if r == nil {
				continue
			}
			var sb strings.Builder
			for _, run := range r.Snippet.Runs {
				sb.WriteString(run.Text)
			}
			text := strings.TrimSpace(sb.String())
			if text == "" {
				continue
			}
			start := parseSeconds(r.StartMs) / 1000
			end := parseSeconds(r.EndMs) / 1000
			dur := end - start
			if dur < 0 {
				dur = 0
			}
			entries = append(entries, engine.Entry{Text: text, Start: start, Duration: dur})
		}
	}
	return entries
}
