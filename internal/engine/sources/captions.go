package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"golang.org/x/net/html"
)

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickTrack selects the best usable caption track for language.
// Order: manual track in language, auto-generated in language, any English, first usable.
// Skips tracks that require PoToken; those only work in a browser.
func pickTrack(tracks []captionTrack, language string) (captionTrack, error) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		if len(tracks) == 0 {
			return captionTrack{}, terminalf("no caption tracks")
		}
		return captionTrack{}, terminalf("all caption tracks require PoToken")
	}
	// 1. Manual track in requested language
	for _, t := range usable {
		if t.LanguageCode == language && t.Kind != "asr" {
			return t, nil
		}
	}
	// 2. Auto-generated track in requested language
	for _, t := range usable {
		if t.LanguageCode == language {
			return t, nil
		}
	}
	// 3. Any English track
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, nil
		}
	}
	return usable[0], nil
}

// tracksOf returns caption tracks from a player response, classifying why none exist.
func tracksOf(p playerResp) ([]captionTrack, error) {
	if p.Captions == nil {
		if p.PlayabilityStatus != nil && p.PlayabilityStatus.Status != "" && p.PlayabilityStatus.Status != "OK" {
			reason := p.PlayabilityStatus.Reason
			if reason == "" {
				reason = p.PlayabilityStatus.Status
			}
			return nil, terminalf("video unplayable: %s", reason)
		}
		return nil, terminalf("transcripts disabled for this video")
	}
	tracks := p.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, terminalf("no caption tracks")
	}
	return tracks, nil
}

// --- Timedtext XML types ---

type timedText struct {
	Lines []timedLine `xml:"text"`
	Paras []timedPara `xml:"body>p"` // srv3
}

type timedLine struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

type timedPara struct {
	T    string `xml:"t,attr"` // ms
	D    string `xml:"d,attr"` // ms
	Text string `xml:",innerxml"`
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// cleanCaption strips markup and decodes entities, which timedtext often double-encodes.
func cleanCaption(s string) string {
	s = html.UnescapeString(tagRe.ReplaceAllString(s, ""))
	return strings.TrimSpace(html.UnescapeString(s))
}

// parseTimedText parses classic (<text start dur>) and srv3 (<p t d>) caption XML.
func parseTimedText(body []byte) ([]engine.Entry, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, terminalf("parse timedtext XML: %v", err)
	}
	entries := make([]engine.Entry, 0, len(tt.Lines)+len(tt.Paras))
	for _, l := range tt.Lines {
		entries = append(entries, engine.Entry{
			Text:     cleanCaption(l.Text),
			Start:    parseSeconds(l.Start),
			Duration: parseSeconds(l.Dur),
		})
	}
	for _, p := range tt.Paras {
		entries = append(entries, engine.Entry{
			Text:     cleanCaption(p.Text),
			Start:    parseSeconds(p.T) / 1000,
			Duration: parseSeconds(p.D) / 1000,
		})
	}
	return entries, nil
}

func parseSeconds(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// timedTextURL drops the fmt parameter so the classic XML format is served.
func timedTextURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	q := u.Query()
	q.Del("fmt")
	u.RawQuery = q.Encode()
	return u.String()
}

// fetchTimedText downloads and parses a caption track.
func fetchTimedText(ctx context.Context, pages engine.PageFetcher, baseURL string) ([]engine.Entry, error) {
	body, status, err := pages.Fetch(ctx, timedTextURL(baseURL), map[string]string{"user-agent": engine.UserAgentBot})
	if err != nil {
		return nil, fmt.Errorf("fetch timedtext: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch timedtext: %w", &statusError{Code: status})
	}
	if len(body) == 0 {
		// served for tracks that need a PoToken or when the session is throttled
		return nil, retryablef("empty timedtext response")
	}
	return parseTimedText(body)
}
