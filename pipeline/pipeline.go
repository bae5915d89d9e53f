// Package pipeline contains the job processors that turn an analyzed VOD
// into uploaded clips: analyze (chat spike detection) feeds extract (ffmpeg
// cut) feeds upload (object storage). Each stage is a jobs.Processor with
// its collaborators injected, so tests swap in fakes without touching the
// queue or the real tools.
package pipeline

import (
	"context"

	"github.com/onnwee/clip-forge/backend/highlight"
)

// TranscriptProvider returns the full chat transcript for a VOD, ordered by
// relative timestamp.
type TranscriptProvider interface {
	Transcript(ctx context.Context, vodID string) ([]highlight.ChatMessage, error)
}

// PlaybackResolver maps a VOD ID to a source URL ffmpeg can read.
type PlaybackResolver interface {
	Resolve(ctx context.Context, vodID string) (string, error)
}

// Transcoder cuts clips and grabs thumbnail frames.
type Transcoder interface {
	// Extract cuts [startMs, endMs) from sourceURL into destPath and
	// reports fractional progress while the tool runs.
	Extract(ctx context.Context, sourceURL, destPath string, startMs, endMs int64, progress func(float64)) error
	// Thumbnail writes a single frame from videoPath at offsetMs to destPath.
	Thumbnail(ctx context.Context, videoPath, destPath string, offsetMs int64) error
}

// ObjectStore persists clip artifacts and returns a public URL.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, objectName, contentType string) (string, error)
	Remove(ctx context.Context, objectName string) error
}
