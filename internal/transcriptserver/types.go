package transcriptserver

import "github.com/anatolykoptev/go_transcript/internal/engine"

// GetInput is the input of transcript_get.
type GetInput struct {
	Video    string `json:"video" jsonschema:"YouTube video id or URL (watch, youtu.be, embed, shorts, live)"`
	Language string `json:"language,omitempty" jsonschema:"Transcript language code, e.g. en, de. Defaults to the server default"`
	Format   string `json:"format,omitempty" jsonschema:"Output format: text (default), srt, vtt or entries"`
}

// GetOutput is the result of transcript_get.
type GetOutput struct {
	VideoID   string         `json:"video_id"`
	Language  string         `json:"language,omitempty"`
	Method    string         `json:"method,omitempty"`
	Success   bool           `json:"success"`
	Text      string         `json:"text,omitempty"`
	Entries   []engine.Entry `json:"entries,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// BatchInput is the input of transcript_batch.
type BatchInput struct {
	Videos   []string `json:"videos" jsonschema:"YouTube video ids or URLs"`
	Language string   `json:"language,omitempty" jsonschema:"Transcript language code applied to every video"`
}

// BatchItem is one video of a transcript_batch result.
type BatchItem struct {
	Video     string `json:"video"`
	VideoID   string `json:"video_id,omitempty"`
	Success   bool   `json:"success"`
	Method    string `json:"method,omitempty"`
	Language  string `json:"language,omitempty"`
	Segments  int    `json:"segments"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// BatchOutput is the result of transcript_batch.
type BatchOutput struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// InvalidateInput is the input of transcript_cache_invalidate.
type InvalidateInput struct {
	Video    string `json:"video" jsonschema:"YouTube video id or URL"`
	Language string `json:"language,omitempty" jsonschema:"Language of the cached transcript. Defaults to the server default"`
}

// InvalidateOutput is the result of transcript_cache_invalidate.
type InvalidateOutput struct {
	VideoID  string `json:"video_id"`
	Language string `json:"language,omitempty"`
	Dropped  bool   `json:"dropped"`
}

// ClearInput is the input of transcript_cache_clear.
type ClearInput struct {
	Video    string `json:"video,omitempty" jsonschema:"YouTube video id or URL. Empty clears every video"`
	Language string `json:"language,omitempty" jsonschema:"Language to clear. Empty clears every language"`
	All      bool   `json:"all,omitempty" jsonschema:"Must be true to clear the whole cache when video and language are both empty"`
}

// ClearOutput is the result of transcript_cache_clear.
type ClearOutput struct {
	Removed int `json:"removed"`
}

// CacheInfoOutput is the result of transcript_cache_info.
type CacheInfoOutput struct {
	Enabled bool `json:"enabled"`
	engine.CacheStats
}

// BackendsOutput lists the fallback chain.
type BackendsOutput struct {
	Backends []engine.Descriptor `json:"backends"`
}
