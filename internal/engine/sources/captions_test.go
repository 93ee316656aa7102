package sources

import (
	"errors"
	"net/url"
	"testing"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickTrack(t *testing.T) {
	manualDE := captionTrack{BaseURL: "https://x/de", LanguageCode: "de"}
	asrDE := captionTrack{BaseURL: "https://x/de-asr", LanguageCode: "de", Kind: "asr"}
	enGB := captionTrack{BaseURL: "https://x/en", LanguageCode: "en-GB"}
	fr := captionTrack{BaseURL: "https://x/fr", LanguageCode: "fr"}
	poToken := captionTrack{BaseURL: "https://x/de?a=1&exp=xpe", LanguageCode: "de"}

	tests := []struct {
		name   string
		tracks []captionTrack
		lang   string
		want   captionTrack
	}{
		{"manual beats asr", []captionTrack{asrDE, manualDE}, "de", manualDE},
		{"asr in language", []captionTrack{fr, asrDE}, "de", asrDE},
		{"english fallback", []captionTrack{fr, enGB}, "de", enGB},
		{"first usable", []captionTrack{fr}, "de", fr},
		{"skips PoToken track", []captionTrack{poToken, asrDE}, "de", asrDE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickTrack(tt.tracks, tt.lang)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("only PoToken tracks", func(t *testing.T) {
		_, err := pickTrack([]captionTrack{poToken}, "de")
		assert.Equal(t, engine.FailureTerminal, classify(err))
		assert.ErrorContains(t, err, "PoToken")
	})
}

func TestParseTimedText(t *testing.T) {
	t.Run("classic", func(t *testing.T) {
		body := `<?xml version="1.0" encoding="utf-8" ?><transcript>` +
			`<text start="0.5" dur="1.25">Hello &amp;amp; welcome</text>` +
			`<text start="2" dur="1">it&amp;#39;s &lt;b&gt;bold&lt;/b&gt;</text>` +
			`<text start="bogus">
  spaced  </text></transcript>`
		entries, err := parseTimedText([]byte(body))
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, engine.Entry{Text: "Hello & welcome", Start: 0.5, Duration: 1.25}, entries[0])
		assert.Equal(t, "it's bold", entries[1].Text)
		assert.Equal(t, engine.Entry{Text: "spaced"}, entries[2])
	})

	t.Run("srv3", func(t *testing.T) {
		body := `<timedtext format="3"><body><p t="1500" d="2000">Hallo <s>Welt</s></p></body></timedtext>`
		entries, err := parseTimedText([]byte(body))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, engine.Entry{Text: "Hallo Welt", Start: 1.5, Duration: 2}, entries[0])
	})

	t.Run("not xml", func(t *testing.T) {
		_, err := parseTimedText([]byte("<html"))
		var f *failure
		require.True(t, errors.As(err, &f))
		assert.Equal(t, engine.FailureTerminal, f.kind)
	})
}

func TestTimedTextURL(t *testing.T) {
	u, err := url.Parse(timedTextURL("https://www.youtube.com/api/timedtext?v=abc&lang=en&fmt=srv3"))
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("fmt"))
	assert.Equal(t, "en", u.Query().Get("lang"))
}
