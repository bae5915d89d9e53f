package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/telemetry"
)

// Extractor cuts one clip out of the source VOD with ffmpeg. A cut failure
// never cascades: the clip row records it and no upload job is created.
type Extractor struct {
	DB         *sql.DB
	Transcoder Transcoder
	Queue      *jobs.Queue
	DataDir    string
}

// UploadPayload is the payload of an upload_clip job.
type UploadPayload struct {
	ClipID     string `json:"clip_id"`
	LocalPath  string `json:"local_path"`
	DurationMs int64  `json:"duration_ms"`
}

// ExtractResult is the stored result of a completed extract_clip job.
type ExtractResult struct {
	LocalPath  string `json:"local_path"`
	DurationMs int64  `json:"duration_ms"`
}

func (e *Extractor) Process(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
	var p ExtractPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode extract payload: %w", err)
	}
	if p.ClipID == "" || p.SourceURL == "" || p.EndMs <= p.StartMs {
		return nil, fmt.Errorf("invalid extract payload: %s", job.Payload)
	}
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("clip_id", p.ClipID),
		slog.String("vod_id", job.VODID),
		slog.String("component", "pipeline"))

	if err := os.MkdirAll(e.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	destPath := filepath.Join(e.DataDir, p.ClipID+".mp4")
	if err := setClipStatus(ctx, e.DB, p.ClipID, ClipExtracting); err != nil {
		return nil, fmt.Errorf("mark clip extracting: %w", err)
	}

	err := e.Transcoder.Extract(ctx, p.SourceURL, destPath, p.StartMs, p.EndMs, func(frac float64) {
		report(frac)
	})
	if err != nil {
		os.Remove(destPath)
		class := ClassifyExtractError(err)
		switch {
		case class == ErrorClassFatal:
			logger.Error("clip extract failed permanently", slog.Any("err", err))
			if merr := markClipFailed(ctx, e.DB, p.ClipID, err.Error()); merr != nil {
				logger.Error("mark clip failed", slog.Any("err", merr))
			}
		case e.Queue != nil && job.Attempts >= e.Queue.MaxAttempts():
			// Last attempt: the queue fails the job next, so no retry is
			// left to move this clip out of pending.
			logger.Error("clip extract failed on final attempt", slog.String("class", class.String()), slog.Any("err", err))
			if merr := markClipFailed(ctx, e.DB, p.ClipID, err.Error()); merr != nil {
				logger.Error("mark clip failed", slog.Any("err", merr))
			}
		default:
			logger.Warn("clip extract failed", slog.String("class", class.String()), slog.Any("err", err))
			if merr := recordClipError(ctx, e.DB, p.ClipID, err.Error()); merr != nil {
				logger.Error("record clip error", slog.Any("err", merr))
			}
			if serr := setClipStatus(ctx, e.DB, p.ClipID, ClipPending); serr != nil {
				logger.Error("reset clip status", slog.Any("err", serr))
			}
		}
		return nil, fmt.Errorf("extract clip %s: %w", p.ClipID, err)
	}

	if err := markClipExtracted(ctx, e.DB, p.ClipID, destPath); err != nil {
		return nil, fmt.Errorf("mark clip extracted: %w", err)
	}
	durationMs := p.EndMs - p.StartMs
	payload := UploadPayload{ClipID: p.ClipID, LocalPath: destPath, DurationMs: durationMs}
	if _, err := e.Queue.Create(ctx, jobs.TypeUploadClip, job.VODID, payload, job.Priority); err != nil {
		return nil, fmt.Errorf("enqueue upload for clip %s: %w", p.ClipID, err)
	}
	logger.Info("clip extracted", slog.String("path", destPath), slog.Int64("duration_ms", durationMs))

	return json.Marshal(ExtractResult{LocalPath: destPath, DurationMs: durationMs})
}
