package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NamePlayer is the ANDROID Innertube /player backend.
const NamePlayer = "youtube_player"

// PlayerBackend asks the ANDROID Innertube /player endpoint for caption tracks.
// Works from non-blocked (residential/cloud) IP addresses.
type PlayerBackend struct {
	BaseURL string
	Client  *http.Client
	Pages   engine.PageFetcher
}

func (b *PlayerBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, got, err := b.fetch(ctx, id, lang)
	return outcomeOf(id, NamePlayer, coalesce(got, lang), entries, err)
}

func (b *PlayerBackend) fetch(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, string, error) {
	payload := innertubeReq{
		VideoID: id.String(),
		Context: innertubeCtx{
			Client: innertubeClient{
				ClientName:        "ANDROID",
				ClientVersion:     ytAndroidVersion,
				AndroidSdkVersion: 30,
				Hl:                lang,
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	}
	data, err := postJSON(ctx, b.Client, coalesce(b.BaseURL, ytBaseURL)+ytPlayerPath+"?prettyPrint=false", payload, map[string]string{
		"User-Agent":               ytAndroidUA,
		"X-Youtube-Client-Name":    "3",
		"X-Youtube-Client-Version": ytAndroidVersion,
	})
	if err != nil {
		return nil, "", fmt.Errorf("android innertube: %w", err)
	}

	var player playerResp
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, "", terminalf("decode player: %v", err)
	}
	tracks, err := tracksOf(player)
	if err != nil {
		return nil, "", err
	}
	track, err := pickTrack(tracks, lang)
	if err != nil {
		return nil, "", err
	}
	pages := b.Pages
	if pages == nil {
		pages = engine.HTTPFetcher{Client: b.Client}
	}
	entries, err := fetchTimedText(ctx, pages, track.BaseURL)
	return entries, track.LanguageCode, err
}
