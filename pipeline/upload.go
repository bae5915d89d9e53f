package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/telemetry"
)

// Uploader ships an extracted clip plus a generated thumbnail to object
// storage and marks the clip ready. Thumbnail trouble is never fatal; the
// clip ships without one.
type Uploader struct {
	DB         *sql.DB
	Store      ObjectStore
	Transcoder Transcoder
}

// UploadResult is the stored result of a completed upload_clip job.
type UploadResult struct {
	StorageURL   string `json:"storage_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

func (u *Uploader) Process(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
	var p UploadPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode upload payload: %w", err)
	}
	if p.ClipID == "" || p.LocalPath == "" {
		return nil, fmt.Errorf("invalid upload payload: %s", job.Payload)
	}
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("clip_id", p.ClipID),
		slog.String("vod_id", job.VODID),
		slog.String("component", "pipeline"))

	if _, err := os.Stat(p.LocalPath); err != nil {
		return nil, fmt.Errorf("clip artifact missing: %w", err)
	}
	if err := setClipStatus(ctx, u.DB, p.ClipID, ClipUploading); err != nil {
		return nil, fmt.Errorf("mark clip uploading: %w", err)
	}
	report(0.1)

	storageURL, err := u.Store.Upload(ctx, p.LocalPath, "clips/"+p.ClipID+".mp4", "video/mp4")
	if err != nil {
		return nil, fmt.Errorf("upload clip %s: %w", p.ClipID, err)
	}
	report(0.7)

	// Thumbnail is best effort: grab a frame one second in (or at the
	// start for very short clips) and ship it next to the video.
	thumbURL := ""
	thumbPath := strings.TrimSuffix(p.LocalPath, ".mp4") + ".jpg"
	offsetMs := int64(1000)
	if p.DurationMs > 0 && p.DurationMs < offsetMs {
		offsetMs = 0
	}
	if err := u.Transcoder.Thumbnail(ctx, p.LocalPath, thumbPath, offsetMs); err != nil {
		logger.Warn("thumbnail generation failed", slog.Any("err", err))
	} else if url, err := u.Store.Upload(ctx, thumbPath, "thumbs/"+p.ClipID+".jpg", "image/jpeg"); err != nil {
		logger.Warn("thumbnail upload failed", slog.Any("err", err))
	} else {
		thumbURL = url
	}
	report(0.9)

	if err := markClipReady(ctx, u.DB, p.ClipID, storageURL, thumbURL); err != nil {
		return nil, fmt.Errorf("mark clip ready: %w", err)
	}
	if telemetry.ClipsReady != nil {
		telemetry.ClipsReady.Inc()
	}
	logger.Info("clip ready", slog.String("url", storageURL))

	// Local artifacts are scratch space once the object store has them.
	if err := os.Remove(p.LocalPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("cleanup clip artifact failed", slog.Any("err", err))
	}
	if err := os.Remove(thumbPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("cleanup thumbnail failed", slog.Any("err", err))
	}
	report(1)

	return json.Marshal(UploadResult{StorageURL: storageURL, ThumbnailURL: thumbURL})
}
