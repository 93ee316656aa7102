package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// ErrNoAudioSource is returned when a speech-to-text backend has nowhere to get audio from.
var ErrNoAudioSource = errors.New("no audio source configured")

// AudioSource resolves the audio track of a video. Remote STT services take the
// URL; upload-based ones read the stream.
type AudioSource interface {
	AudioURL(ctx context.Context, id engine.VideoID) (string, error)
	Open(ctx context.Context, id engine.VideoID) (io.ReadCloser, string, error)
}

// URLTemplateAudio serves audio from a URL template containing "{id}",
// e.g. https://media.example.com/audio/{id}.m4a.
type URLTemplateAudio struct {
	Template string
	Client   *http.Client
}

func (a URLTemplateAudio) AudioURL(_ context.Context, id engine.VideoID) (string, error) {
	if a.Template == "" {
		return "", ErrNoAudioSource
	}
	if !strings.Contains(a.Template, "{id}") {
		return "", fmt.Errorf("audio template %q has no {id} placeholder", a.Template)
	}
	return strings.ReplaceAll(a.Template, "{id}", id.String()), nil
}

// Open streams the audio. The second return value is the file name to upload it as.
func (a URLTemplateAudio) Open(ctx context.Context, id engine.VideoID) (io.ReadCloser, string, error) {
	u, err := a.AudioURL(ctx, id)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch audio: %w", &statusError{Code: resp.StatusCode})
	}
	name := id.String() + ".m4a"
	if i := strings.LastIndex(u, "/"); i >= 0 && i < len(u)-1 {
		name = strings.SplitN(u[i+1:], "?", 2)[0]
	}
	return resp.Body, name, nil
}

// audioErr maps a missing audio source to a terminal failure.
func audioErr(err error) error {
	if errors.Is(err, ErrNoAudioSource) {
		return terminalf("%v", err)
	}
	return err
}
