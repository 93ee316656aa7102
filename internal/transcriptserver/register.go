// Package transcriptserver exposes the transcript orchestrator as MCP tools.
package transcriptserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxBatchVideos bounds one transcript_batch call.
const maxBatchVideos = 50

// Transcriber is the part of the orchestrator the tools use.
type Transcriber interface {
	Get(ctx context.Context, video, language string) (engine.Outcome, error)
	GetBatch(ctx context.Context, reqs []engine.Request, progress engine.ProgressFunc) []engine.BatchResult
	Invalidate(ctx context.Context, video, language string) error
	ClearCache(ctx context.Context, video, language string) (int, error)
	CacheStats() (engine.CacheStats, bool)
	Backends() []engine.Descriptor
}

// RegisterTools registers the transcript tools on the given MCP server:
// transcript_get, transcript_batch, transcript_cache_invalidate,
// transcript_cache_clear, transcript_cache_info, transcript_backends.
func RegisterTools(server *mcp.Server, t Transcriber) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_get",
		Description: "Fetch the transcript of a YouTube video. Tries caption and speech-to-text backends in order with retries until one succeeds. Returns plain text, SRT, VTT or timed entries, plus the backend that produced it.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, handleGet(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_batch",
		Description: fmt.Sprintf("Fetch plain-text transcripts for up to %d YouTube videos in parallel. A failing video never stops the others; each item reports success, backend used and error.", maxBatchVideos),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, handleBatch(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_cache_invalidate",
		Description: "Drop the cached transcript of a YouTube video in a language so the next transcript_get fetches it again.",
		Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
	}, handleInvalidate(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_cache_clear",
		Description: "Clear cached transcripts: one video in all languages, one language for all videos, or everything (all=true). Returns how many records were removed.",
		Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
	}, handleClear(t))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_cache_info",
		Description: "Report transcript cache statistics: entries in memory, hits and misses.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, CacheInfoOutput, error) {
		st, ok := t.CacheStats()
		return nil, CacheInfoOutput{Enabled: ok, CacheStats: st}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_backends",
		Description: "List the transcript backends in fallback order, with paid/credential flags and cost hints.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, BackendsOutput, error) {
		return nil, BackendsOutput{Backends: t.Backends()}, nil
	})
}

func handleGet(t Transcriber) mcp.ToolHandlerFor[GetInput, GetOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
		if strings.TrimSpace(input.Video) == "" {
			return nil, GetOutput{}, errors.New("video is required")
		}
		format := strings.ToLower(strings.TrimSpace(input.Format))

		out, err := t.Get(ctx, input.Video, toolutil.NormLang(input.Language))
		if errors.Is(err, engine.ErrInvalidIdentifier) {
			return nil, GetOutput{}, err
		}
		res := GetOutput{
			VideoID:   out.VideoID.String(),
			Language:  out.Language,
			Method:    out.Method,
			Success:   out.Success,
			Error:     out.Error,
			ErrorKind: toolutil.ErrorKind(err),
			ElapsedMS: out.Elapsed.Milliseconds(),
		}
		if !out.Success {
			return nil, res, nil
		}
		if format == "entries" {
			res.Entries = out.Entries
			return nil, res, nil
		}
		text, err := out.Render(format)
		if err != nil {
			return nil, GetOutput{}, err
		}
		res.Text = text
		return nil, res, nil
	}
}

func handleBatch(t Transcriber) mcp.ToolHandlerFor[BatchInput, BatchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input BatchInput) (*mcp.CallToolResult, BatchOutput, error) {
		videos := toolutil.SplitVideos(input.Videos)
		if len(videos) == 0 {
			return nil, BatchOutput{}, errors.New("videos is required")
		}
		if len(videos) > maxBatchVideos {
			return nil, BatchOutput{}, fmt.Errorf("at most %d videos per call, got %d", maxBatchVideos, len(videos))
		}

		lang := toolutil.NormLang(input.Language)
		reqs := make([]engine.Request, len(videos))
		for i, v := range videos {
			reqs[i] = engine.Request{Video: v, Language: lang}
		}

		results := t.GetBatch(ctx, reqs, logProgress)

		out := BatchOutput{Items: make([]BatchItem, len(results))}
		for i, r := range results {
			item := BatchItem{
				Video:     r.Request.Video,
				VideoID:   r.Outcome.VideoID.String(),
				Success:   r.Outcome.Success,
				Method:    r.Outcome.Method,
				Language:  r.Outcome.Language,
				Segments:  len(r.Outcome.Entries),
				Error:     r.Outcome.Error,
				ErrorKind: toolutil.ErrorKind(r.Err),
			}
			if r.Outcome.Success {
				item.Text = r.Outcome.PlainText()
				out.Succeeded++
			} else {
				out.Failed++
			}
			out.Items[i] = item
		}
		return nil, out, nil
	}
}

// logProgress reports batch progress in the server log.
func logProgress(done, total int, r engine.BatchResult) {
	slog.Debug("transcript_batch: progress",
		slog.Int("done", done), slog.Int("total", total),
		slog.String("video", r.Request.Video), slog.Bool("ok", r.Err == nil))
}

func handleInvalidate(t Transcriber) mcp.ToolHandlerFor[InvalidateInput, InvalidateOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InvalidateInput) (*mcp.CallToolResult, InvalidateOutput, error) {
		id, err := engine.Normalize(input.Video)
		if err != nil {
			return nil, InvalidateOutput{}, err
		}
		lang := toolutil.NormLang(input.Language)
		if err := t.Invalidate(ctx, input.Video, lang); err != nil {
			return nil, InvalidateOutput{}, err
		}
		return nil, InvalidateOutput{VideoID: id.String(), Language: lang, Dropped: true}, nil
	}
}

func handleClear(t Transcriber) mcp.ToolHandlerFor[ClearInput, ClearOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ClearInput) (*mcp.CallToolResult, ClearOutput, error) {
		video := strings.TrimSpace(input.Video)
		lang := toolutil.NormLang(input.Language)
		if video == "" && lang == "" && !input.All {
			return nil, ClearOutput{}, errors.New("set video, language or all=true")
		}
		n, err := t.ClearCache(ctx, video, lang)
		if err != nil {
			return nil, ClearOutput{Removed: n}, err
		}
		return nil, ClearOutput{Removed: n}, nil
	}
}
