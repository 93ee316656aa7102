package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"golang.org/x/net/html"
)

// NamePage is the watch-page scraping backend.
const NamePage = "youtube_page"

// ytInitialPlayerResponseMarker marks the start of the player response JSON in watch page HTML.
const ytInitialPlayerResponseMarker = "ytInitialPlayerResponse = "

// PageBackend scrapes the watch page HTML, reads the caption track list from
// ytInitialPlayerResponse and downloads the chosen track. Works from any IP.
type PageBackend struct {
	BaseURL string
	Pages   engine.PageFetcher
}

func (b *PageBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, got, err := b.fetch(ctx, id, lang)
	return outcomeOf(id, NamePage, coalesce(got, lang), entries, err)
}

func (b *PageBackend) fetch(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, string, error) {
	base := coalesce(b.BaseURL, ytBaseURL)
	headers := engine.ChromeHeaders()
	headers["accept-language"] = lang + ",en-US;q=0.9,en;q=0.8"

	body, status, err := b.pages().Fetch(ctx, base+"/watch?v="+id.String()+"&hl="+lang, headers)
	if err != nil {
		return nil, "", fmt.Errorf("watch page: %w", err)
	}
	if status != http.StatusOK {
		return nil, "", fmt.Errorf("watch page: %w", &statusError{Code: status})
	}

	player, err := scrapePlayerResponse(body)
	if err != nil {
		return nil, "", err
	}
	tracks, err := tracksOf(player)
	if err != nil {
		return nil, "", err
	}
	track, err := pickTrack(tracks, lang)
	if err != nil {
		return nil, "", err
	}
	entries, err := fetchTimedText(ctx, b.pages(), track.BaseURL)
	return entries, track.LanguageCode, err
}

func (b *PageBackend) pages() engine.PageFetcher {
	if b.Pages == nil {
		return engine.HTTPFetcher{}
	}
	return b.Pages
}

// scrapePlayerResponse walks the page's <script> elements and decodes the
// first ytInitialPlayerResponse assignment it finds.
func scrapePlayerResponse(page []byte) (playerResp, error) {
	z := html.NewTokenizer(bytes.NewReader(page))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				if bytes.Contains(page, []byte("consent.youtube.com")) {
					return playerResp{}, retryablef("consent wall served instead of watch page")
				}
				return playerResp{}, terminalf("ytInitialPlayerResponse not found in watch page")
			}
			return playerResp{}, terminalf("tokenize watch page: %v", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = string(name) == "script"
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			text := string(z.Text())
			idx := strings.Index(text, ytInitialPlayerResponseMarker)
			if idx < 0 {
				continue
			}
			var p playerResp
			// Decode reads exactly one JSON value and ignores the trailing ";var ...".
			dec := json.NewDecoder(strings.NewReader(text[idx+len(ytInitialPlayerResponseMarker):]))
			if err := dec.Decode(&p); err != nil {
				return playerResp{}, terminalf("decode ytInitialPlayerResponse: %v", err)
			}
			return p, nil
		}
	}
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
