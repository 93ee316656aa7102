package sources

import (
	"net/http"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Deps are the collaborators and credentials the backends are built from.
// Zero values fall back to net/http and the public API endpoints.
type Deps struct {
	HTTPClient *http.Client
	// Browser fetches the watch page; an engine.BrowserFetcher gets past
	// fingerprint checks that block plain net/http.
	Browser engine.PageFetcher
	Audio   AudioSource

	YouTubeBaseURL string

	OpenAIKey     string
	OpenAIBaseURL string
	WhisperModel  string

	DeepgramKey     string
	DeepgramBaseURL string

	AssemblyAIKey     string
	AssemblyAIBaseURL string
	AssemblyAIPoll    time.Duration
}

// Catalog returns every backend this package provides, keyed by name.
// engine.Assemble picks and orders the ones a deployment enables.
func Catalog(d Deps) map[string]engine.Registered {
	pages := d.Browser
	if pages == nil {
		pages = engine.HTTPFetcher{Client: d.HTTPClient}
	}
	return map[string]engine.Registered{
		NamePage: {
			Descriptor: engine.Descriptor{Name: NamePage},
			Backend:    &PageBackend{BaseURL: d.YouTubeBaseURL, Pages: pages},
		},
		NamePanel: {
			Descriptor: engine.Descriptor{Name: NamePanel},
			Backend:    &PanelBackend{BaseURL: d.YouTubeBaseURL, Client: d.HTTPClient},
		},
		NamePlayer: {
			Descriptor: engine.Descriptor{Name: NamePlayer},
			Backend:    &PlayerBackend{BaseURL: d.YouTubeBaseURL, Client: d.HTTPClient},
		},
		NameWhisper: {
			Descriptor: engine.Descriptor{Name: NameWhisper, Paid: true, Credentials: true, CostPerMin: 0.006},
			Backend: &WhisperBackend{
				APIKey: d.OpenAIKey, BaseURL: d.OpenAIBaseURL, Model: d.WhisperModel,
				Audio: d.Audio, Client: d.HTTPClient,
			},
		},
		NameDeepgram: {
			Descriptor: engine.Descriptor{Name: NameDeepgram, Paid: true, Credentials: true, CostPerMin: 0.0043},
			Backend: &DeepgramBackend{
				APIKey: d.DeepgramKey, BaseURL: d.DeepgramBaseURL,
				Audio: d.Audio, Client: d.HTTPClient,
			},
		},
		NameAssemblyAI: {
			Descriptor: engine.Descriptor{Name: NameAssemblyAI, Paid: true, Credentials: true, CostPerMin: 0.0065},
			Backend: &AssemblyAIBackend{
				APIKey: d.AssemblyAIKey, BaseURL: d.AssemblyAIBaseURL,
				Audio: d.Audio, Client: d.HTTPClient, PollInterval: d.AssemblyAIPoll,
			},
		},
	}
}
