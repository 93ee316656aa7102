package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NameAssemblyAI is the AssemblyAI speech-to-text backend.
const NameAssemblyAI = "assemblyai"

const assemblyAIBaseURL = "https://api.assemblyai.com"

// AssemblyAIBackend submits a remote audio URL, polls until the job settles,
// then reads sentence timings.
type AssemblyAIBackend struct {
	APIKey       string
	BaseURL      string
	Audio        AudioSource
	Client       *http.Client
	PollInterval time.Duration
	Clock        engine.Clock
}

type assemblyJob struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, processing, completed, error
	Error  string `json:"error"`
}

type assemblySentences struct {
	Sentences []struct {
		Text  string `json:"text"`
		Start int64  `json:"start"` // ms
		End   int64  `json:"end"`   // ms
	} `json:"sentences"`
}

func (b *AssemblyAIBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, err := b.transcribe(ctx, id, lang)
	return outcomeOf(id, NameAssemblyAI, lang, entries, err)
}

func (b *AssemblyAIBackend) transcribe(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, error) {
	if b.APIKey == "" {
		return nil, terminalf("ASSEMBLYAI_API_KEY not set")
	}
	if b.Audio == nil {
		return nil, terminalf("%v", ErrNoAudioSource)
	}
	audioURL, err := b.Audio.AudioURL(ctx, id)
	if err != nil {
		return nil, audioErr(err)
	}
	base := coalesce(b.BaseURL, assemblyAIBaseURL)
	auth := map[string]string{"Authorization": b.APIKey}

	data, err := postJSON(ctx, b.Client, base+"/v2/transcript", map[string]any{
		"audio_url":     audioURL,
		"language_code": lang,
	}, auth)
	if err != nil {
		return nil, fmt.Errorf("assemblyai submit: %w", err)
	}
	var job assemblyJob
	if err := json.Unmarshal(data, &job); err != nil || job.ID == "" {
		return nil, terminalf("assemblyai submit: unexpected response")
	}

	if err := b.poll(ctx, base, &job, auth); err != nil {
		return nil, err
	}

	data, err = b.get(ctx, base+"/v2/transcript/"+job.ID+"/sentences", auth)
	if err != nil {
		return nil, fmt.Errorf("assemblyai sentences: %w", err)
	}
	var s assemblySentences
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, terminalf("decode assemblyai sentences: %v", err)
	}
	entries := make([]engine.Entry, 0, len(s.Sentences))
	for _, sn := range s.Sentences {
		entries = append(entries, engine.Entry{
			Text:     sn.Text,
			Start:    float64(sn.Start) / 1000,
			Duration: float64(max(sn.End-sn.Start, 0)) / 1000,
		})
	}
	return entries, nil
}

// poll waits for job to reach completed or error. Cancelling ctx stops it.
func (b *AssemblyAIBackend) poll(ctx context.Context, base string, job *assemblyJob, auth map[string]string) error {
	interval := b.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	clock := b.Clock
	if clock == nil {
		clock = engine.SystemClock
	}
	for {
		switch job.Status {
		case "completed":
			return nil
		case "error":
			return terminalf("assemblyai: %s", coalesce(job.Error, "transcription failed"))
		}
		if err := engine.Wait(ctx, clock, interval); err != nil {
			return err
		}
		data, err := b.get(ctx, base+"/v2/transcript/"+job.ID, auth)
		if err != nil {
			return fmt.Errorf("assemblyai poll: %w", err)
		}
		if err := json.Unmarshal(data, job); err != nil {
			return terminalf("decode assemblyai job: %v", err)
		}
	}
}

func (b *AssemblyAIBackend) get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(b.Client, req)
}
