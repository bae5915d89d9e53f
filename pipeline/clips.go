package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/clip-forge/backend/highlight"
)

// Clip lifecycle states. pending -> extracting -> extracted -> uploading ->
// ready, with failed reachable from any processing state.
const (
	ClipPending    = "pending"
	ClipExtracting = "extracting"
	ClipExtracted  = "extracted"
	ClipUploading  = "uploading"
	ClipReady      = "ready"
	ClipFailed     = "failed"
)

// Clip is one detected highlight with its processing state.
type Clip struct {
	ID                 string    `json:"id"`
	VODID              string    `json:"vod_id"`
	Title              string    `json:"title"`
	StartMs            int64     `json:"start_ms"`
	EndMs              int64     `json:"end_ms"`
	MessageCount       int       `json:"message_count"`
	UniqueSenders      int       `json:"unique_senders"`
	AvgWordsPerMessage float64   `json:"avg_words_per_message"`
	SentimentScore     float64   `json:"sentiment_score"`
	Confidence         float64   `json:"confidence"`
	Keywords           []string  `json:"keywords,omitempty"`
	TopEmotes          []string  `json:"top_emotes,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Status             string    `json:"status"`
	LocalPath          string    `json:"-"`
	StorageURL         string    `json:"storage_url,omitempty"`
	ThumbnailURL       string    `json:"thumbnail_url,omitempty"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertClip stores a freshly detected moment as a pending clip row. It
// accepts a transaction so analyze fan-out commits atomically.
func insertClip(ctx context.Context, db execer, id, vodID, title string, m highlight.Moment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO clips (id, vod_id, title, start_ms, end_ms, message_count, unique_senders,
			avg_words_per_message, sentiment_score, confidence, keywords, top_emotes, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'pending',NOW())`,
		id, vodID, title, m.StartMs, m.EndMs, m.MessageCount, m.UniqueSenders,
		m.AvgWordsPerMessage, m.SentimentScore, m.Confidence,
		strings.Join(m.Keywords, ","), strings.Join(m.TopEmotes, ","), m.Reason)
	if err != nil {
		return fmt.Errorf("insert clip %s: %w", id, err)
	}
	return nil
}

func setClipStatus(ctx context.Context, db *sql.DB, id, status string) error {
	_, err := db.ExecContext(ctx, `UPDATE clips SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func markClipExtracted(ctx context.Context, db *sql.DB, id, localPath string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clips SET status='extracted', local_path=$2, error='', updated_at=NOW() WHERE id=$1`, id, localPath)
	return err
}

func markClipReady(ctx context.Context, db *sql.DB, id, storageURL, thumbnailURL string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clips SET status='ready', storage_url=$2, thumbnail_url=$3, error='', updated_at=NOW() WHERE id=$1`,
		id, storageURL, thumbnailURL)
	return err
}

func markClipFailed(ctx context.Context, db *sql.DB, id, errMsg string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clips SET status='failed', error=$2, updated_at=NOW() WHERE id=$1`, id, errMsg)
	return err
}

// recordClipError keeps the last error without declaring the clip dead, so
// a retried job can still move it forward.
func recordClipError(ctx context.Context, db *sql.DB, id, errMsg string) error {
	_, err := db.ExecContext(ctx, `UPDATE clips SET error=$2, updated_at=NOW() WHERE id=$1`, id, errMsg)
	return err
}

const clipColumns = `id, vod_id, title, start_ms, end_ms, message_count, unique_senders,
	avg_words_per_message, sentiment_score, confidence, keywords, top_emotes, reason,
	status, local_path, storage_url, thumbnail_url, error, created_at`

// GetClip returns one clip by ID, or sql.ErrNoRows.
func GetClip(ctx context.Context, db *sql.DB, id string) (*Clip, error) {
	row := db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id=$1`, id)
	return scanClip(row)
}

// ListClips returns a VOD's clips in playback order.
func ListClips(ctx context.Context, db *sql.DB, vodID string) ([]*Clip, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE vod_id=$1 ORDER BY start_ms ASC`, vodID)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()
	var out []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*Clip, error) {
	var (
		c        Clip
		title    sql.NullString
		keywords sql.NullString
		emotes   sql.NullString
		reason   sql.NullString
		local    sql.NullString
		storage  sql.NullString
		thumb    sql.NullString
		errMsg   sql.NullString
	)
	err := row.Scan(&c.ID, &c.VODID, &title, &c.StartMs, &c.EndMs, &c.MessageCount, &c.UniqueSenders,
		&c.AvgWordsPerMessage, &c.SentimentScore, &c.Confidence, &keywords, &emotes, &reason,
		&c.Status, &local, &storage, &thumb, &errMsg, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Title = title.String
	c.Reason = reason.String
	c.LocalPath = local.String
	c.StorageURL = storage.String
	c.ThumbnailURL = thumb.String
	c.Error = errMsg.String
	c.Keywords = splitList(keywords.String)
	c.TopEmotes = splitList(emotes.String)
	return &c, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
