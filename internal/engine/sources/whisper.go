package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// NameWhisper is the OpenAI speech-to-text backend.
const NameWhisper = "whisper"

const openAIBaseURL = "https://api.openai.com"

// WhisperBackend uploads the audio to OpenAI /v1/audio/transcriptions.
type WhisperBackend struct {
	APIKey  string
	BaseURL string
	Model   string
	Audio   AudioSource
	Client  *http.Client
}

type whisperResp struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (b *WhisperBackend) Extract(ctx context.Context, id engine.VideoID, lang string) (engine.Outcome, error) {
	entries, err := b.transcribe(ctx, id, lang)
	return outcomeOf(id, NameWhisper, lang, entries, err)
}

func (b *WhisperBackend) transcribe(ctx context.Context, id engine.VideoID, lang string) ([]engine.Entry, error) {
	if b.APIKey == "" {
		return nil, terminalf("OPENAI_API_KEY not set")
	}
	if b.Audio == nil {
		return nil, terminalf("%v", ErrNoAudioSource)
	}
	audio, name, err := b.Audio.Open(ctx, id)
	if err != nil {
		return nil, audioErr(err)
	}
	defer audio.Close()

	// Stream the multipart body so large audio files are never buffered whole.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeWhisperForm(mw, audio, name, coalesce(b.Model, "whisper-1"), lang))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, coalesce(b.BaseURL, openAIBaseURL)+"/v1/audio/transcriptions", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := doRequest(b.Client, req)
	pr.Close()
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	var resp whisperResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, terminalf("decode whisper response: %v", err)
	}
	entries := make([]engine.Entry, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		entries = append(entries, engine.Entry{Text: cleanCaption(s.Text), Start: s.Start, Duration: max(s.End-s.Start, 0)})
	}
	return entries, nil
}

func writeWhisperForm(mw *multipart.Writer, audio io.Reader, name, model, lang string) error {
	fields := [][2]string{{"model", model}, {"response_format", "verbose_json"}, {"language", lang}}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}
