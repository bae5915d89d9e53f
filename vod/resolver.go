package vod

import (
	"context"
	"database/sql"
	"fmt"
)

// Resolver turns catalog VOD IDs into playback URLs for the extractor.
// ffmpeg (and yt-dlp style tooling) can consume the canonical video page
// URL directly, so no playlist negotiation happens here.
type Resolver struct {
	DB *sql.DB
}

// Resolve returns the playback URL for a known VOD. Unknown VODs are an
// error so the pipeline never cuts from a video the catalog has no row for.
func (r *Resolver) Resolve(ctx context.Context, vodID string) (string, error) {
	ok, err := Exists(ctx, r.DB, vodID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("vod %s not in catalog", vodID)
	}
	return "https://www.twitch.tv/videos/" + vodID, nil
}
