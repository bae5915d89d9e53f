// Package vod maintains the channel's VOD catalog: Helix discovery of
// archived broadcasts, upsert into the vods table, and playback URL
// resolution for the extraction pipeline.
package vod

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VOD is one archived broadcast tracked in the catalog.
type VOD struct {
	ID              string    `json:"id"`
	Channel         string    `json:"channel"`
	Title           string    `json:"title"`
	Date            time.Time `json:"date"`
	DurationSeconds int       `json:"duration_seconds"`
	Analyzed        bool      `json:"analyzed"`
	Priority        int       `json:"priority"`
}

// Get returns one VOD by its Twitch ID, or sql.ErrNoRows.
func Get(ctx context.Context, db *sql.DB, vodID string) (*VOD, error) {
	var (
		v        VOD
		channel  sql.NullString
		title    sql.NullString
		date     sql.NullTime
		duration sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT twitch_vod_id, channel, title, date, duration_seconds, analyzed, priority
		FROM vods WHERE twitch_vod_id=$1`, vodID).
		Scan(&v.ID, &channel, &title, &date, &duration, &v.Analyzed, &v.Priority)
	if err != nil {
		return nil, err
	}
	v.Channel = channel.String
	v.Title = title.String
	v.Date = date.Time
	v.DurationSeconds = int(duration.Int64)
	return &v, nil
}

// Exists reports whether the catalog knows the VOD.
func Exists(ctx context.Context, db *sql.DB, vodID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM vods WHERE twitch_vod_id=$1`, vodID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vod %s: %w", vodID, err)
	}
	return true, nil
}

// Upsert inserts a discovered VOD or refreshes its metadata. Analysis state
// is never touched here.
func Upsert(ctx context.Context, db *sql.DB, v VOD) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO vods (twitch_vod_id, channel, title, date, duration_seconds, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (twitch_vod_id) DO UPDATE SET
			title=COALESCE(NULLIF(EXCLUDED.title,''), vods.title),
			date=EXCLUDED.date,
			duration_seconds=CASE WHEN COALESCE(vods.duration_seconds,0)=0 THEN EXCLUDED.duration_seconds ELSE vods.duration_seconds END,
			updated_at=NOW()`,
		v.ID, v.Channel, v.Title, v.Date, v.DurationSeconds)
	if err != nil {
		return fmt.Errorf("upsert vod %s: %w", v.ID, err)
	}
	return nil
}

// parseTwitchDuration parses Twitch duration format like "3h15m42s".
func parseTwitchDuration(s string) int {
	var total, cur int
	var have bool
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			have = true
			continue
		}
		if !have {
			continue
		}
		switch r {
		case 'h':
			total += cur * 3600
		case 'm':
			total += cur * 60
		case 's':
			total += cur
		}
		cur = 0
		have = false
	}
	return total
}
