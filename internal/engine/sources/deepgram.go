package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NameDeepgram is the Deepgram speech-to-text backend.
const NameDeepgram = "deepgram"

const deepgramBaseURL = "https://api.deepgram.com"

// DeepgramBackend transcribes a remote audio URL with Deepgram /v1/listen.
type DeepgramBackend struct {
	APIKey  string
	BaseURL string
	Audio   AudioSource
	Client  *http.Client
}

type deepgramResp struct {
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
		} `json:"utterances"`
	} `json:"results"`
}

func (b *DeepgramBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, err := b.transcribe(ctx, id, lang)
	return outcomeOf(id, NameDeepgram, lang, entries, err)
}

func (b *DeepgramBackend) transcribe(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, error) {
	if b.APIKey == "" {
		return nil, terminalf("DEEPGRAM_API_KEY not set")
	}
	if b.Audio == nil {
		return nil, terminalf("%v", ErrNoAudioSource)
	}
	audioURL, err := b.Audio.AudioURL(ctx, id)
	if err != nil {
		return nil, audioErr(err)
	}

	q := url.Values{}
	q.Set("utterances", "true")
	q.Set("punctuate", "true")
	q.Set("language", lang)
	data, err := postJSON(ctx, b.Client, coalesce(b.BaseURL, deepgramBaseURL)+"/v1/listen?"+q.Encode(),
		map[string]string{"url": audioURL},
		map[string]string{"Authorization": "Token " + b.APIKey})
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	var resp deepgramResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, terminalf("decode deepgram response: %v", err)
	}
	entries := make([]engine.Entry, 0, len(resp.Results.Utterances))
	for _, u := range resp.Results.Utterances {
		entries = append(entries, engine.Entry{Text: u.Transcript, Start: u.Start, Duration: max(u.End-u.Start, 0)})
	}
	return entries, nil
}
