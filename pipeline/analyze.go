package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clip-forge/backend/highlight"
	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/telemetry"
)

// Analyzer runs highlight detection over a VOD's chat transcript and fans
// out one extract job per detected moment.
type Analyzer struct {
	DB          *sql.DB
	Transcripts TranscriptProvider
	Resolver    PlaybackResolver
	Queue       *jobs.Queue
}

// ExtractPayload is the payload of an extract_clip job.
type ExtractPayload struct {
	ClipID    string `json:"clip_id"`
	SourceURL string `json:"source_url"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// AnalyzeResult is the stored result of a completed analyze_vod job.
type AnalyzeResult struct {
	ClipCount int      `json:"clip_count"`
	ClipIDs   []string `json:"clip_ids"`
}

func (a *Analyzer) Process(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
	vodID := job.VODID
	if vodID == "" {
		return nil, fmt.Errorf("analyze job %s has no vod_id", job.ID)
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("vod_id", vodID), slog.String("component", "pipeline"))

	msgs, err := a.Transcripts.Transcript(ctx, vodID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("No chat data found for VOD %s", vodID)
	}
	report(0.2)

	sourceURL, err := a.Resolver.Resolve(ctx, vodID)
	if err != nil {
		return nil, fmt.Errorf("resolve playback url: %w", err)
	}
	if sourceURL == "" {
		return nil, fmt.Errorf("no playback url for VOD %s", vodID)
	}
	report(0.3)

	start := time.Now()
	moments := highlight.Detect(msgs)
	if telemetry.DetectionsRun != nil {
		telemetry.DetectionsRun.Inc()
		telemetry.DetectDuration.Observe(time.Since(start).Seconds())
		telemetry.MomentsPerVOD.Observe(float64(len(moments)))
	}
	logger.Info("highlight detection complete",
		slog.Int("messages", len(msgs)),
		slog.Int("moments", len(moments)),
		slog.Duration("took", time.Since(start)))
	report(0.5)

	// Fan-out runs in one transaction: a mid-loop failure rolls everything
	// back, so a retried analyze job never duplicates clips or extract jobs.
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fan-out: %w", err)
	}
	defer tx.Rollback()

	clipIDs := make([]string, 0, len(moments))
	for i, m := range moments {
		clipID := uuid.New().String()
		title := clipTitle(m)
		if err := insertClip(ctx, tx, clipID, vodID, title, m); err != nil {
			return nil, err
		}
		payload := ExtractPayload{ClipID: clipID, SourceURL: sourceURL, StartMs: m.StartMs, EndMs: m.EndMs}
		if _, err := a.Queue.CreateTx(ctx, tx, jobs.TypeExtractClip, vodID, payload, job.Priority); err != nil {
			return nil, fmt.Errorf("enqueue extract for clip %s: %w", clipID, err)
		}
		clipIDs = append(clipIDs, clipID)
		if len(moments) > 0 {
			report(0.5 + 0.4*float64(i+1)/float64(len(moments)))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE vods SET analyzed=TRUE, updated_at=NOW() WHERE twitch_vod_id=$1`, vodID); err != nil {
		return nil, fmt.Errorf("mark vod analyzed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fan-out: %w", err)
	}
	report(1)

	return json.Marshal(AnalyzeResult{ClipCount: len(clipIDs), ClipIDs: clipIDs})
}

// clipTitle builds a short human title like "Highlight at 12:30 (activity spike)".
func clipTitle(m highlight.Moment) string {
	return fmt.Sprintf("Highlight at %s (%s)", formatOffset(m.StartMs), m.Reason)
}

func formatOffset(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	mnt := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, s)
	}
	return fmt.Sprintf("%d:%02d", mnt, s)
}
