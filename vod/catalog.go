package vod

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/clip-forge/backend/db"
	"github.com/onnwee/clip-forge/backend/twitchapi"
)

// Catalog discovers a channel's archived VODs through Helix and keeps the
// vods table current.
type Catalog struct {
	DB      *sql.DB
	Helix   *twitchapi.HelixClient
	Channel string
}

// Discover pages through the channel's archive and upserts every VOD.
// Returns the number of VODs seen. The pagination cursor is checkpointed in
// kv so a restart resumes where the last run stopped.
func (c *Catalog) Discover(ctx context.Context) (int, error) {
	if c.Channel == "" {
		return 0, nil
	}
	userID, err := c.Helix.GetUserID(ctx, c.Channel)
	if err != nil {
		return 0, fmt.Errorf("resolve channel %s: %w", c.Channel, err)
	}

	after, _ := db.GetKV(ctx, c.DB, db.KeyCatalogAfter)

	seen := 0
	for {
		videos, cursor, err := c.Helix.ListVideos(ctx, userID, after, 100)
		if err != nil {
			return seen, fmt.Errorf("list videos: %w", err)
		}
		if len(videos) == 0 {
			break
		}
		for _, meta := range videos {
			created, _ := time.Parse(time.RFC3339, meta.CreatedAt)
			v := VOD{
				ID:              meta.ID,
				Channel:         c.Channel,
				Title:           meta.Title,
				Date:            created,
				DurationSeconds: parseTwitchDuration(meta.Duration),
			}
			if err := Upsert(ctx, c.DB, v); err != nil {
				slog.Warn("vod upsert failed", slog.String("vod_id", meta.ID), slog.Any("err", err))
				continue
			}
			seen++
		}
		if cursor == "" {
			// Full pass complete; clear the checkpoint so the next run
			// starts from the newest VODs again.
			_ = db.DeleteKV(ctx, c.DB, db.KeyCatalogAfter)
			break
		}
		after = cursor
		_ = db.SetKV(ctx, c.DB, db.KeyCatalogAfter, after)
		select {
		case <-ctx.Done():
			return seen, ctx.Err()
		case <-time.After(1200 * time.Millisecond):
		}
	}
	return seen, nil
}

// StartDiscoveryJob runs Discover immediately and then on an interval until
// ctx is canceled. Interval comes from VOD_DISCOVERY_INTERVAL (default 1h).
func (c *Catalog) StartDiscoveryJob(ctx context.Context) {
	interval := time.Hour
	if s := os.Getenv("VOD_DISCOVERY_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			interval = d
		}
	}
	logger := slog.Default().With(slog.String("component", "vod_discovery"), slog.String("channel", c.Channel))
	logger.Info("vod discovery starting", slog.Duration("interval", interval))

	run := func() {
		n, err := c.Discover(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("vod discovery failed", slog.Any("err", err))
			return
		}
		logger.Info("vod discovery pass complete", slog.Int("vods", n))
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("vod discovery stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
