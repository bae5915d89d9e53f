// Package media wraps the ffmpeg binary for clip extraction and thumbnail
// grabs. Progress is parsed from ffmpeg's machine-readable -progress stream
// so callers can surface fractional completion without scraping log output.
package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes ffmpeg. The zero value uses "ffmpeg" from PATH.
type Runner struct {
	FFmpegPath string
}

func (r *Runner) binary() string {
	if r.FFmpegPath != "" {
		return r.FFmpegPath
	}
	return "ffmpeg"
}

// Extract cuts [startMs, endMs) from sourceURL into destPath using stream
// copy. Seeking before the input keeps the cut fast on remote sources;
// ffmpeg snaps to the nearest keyframe, which is acceptable for highlight
// clips. progress may be nil.
func (r *Runner) Extract(ctx context.Context, sourceURL, destPath string, startMs, endMs int64, progress func(float64)) error {
	durMs := endMs - startMs
	if durMs <= 0 {
		return fmt.Errorf("invalid clip range [%d, %d)", startMs, endMs)
	}
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-ss", formatOffsetArg(startMs),
		"-i", sourceURL,
		"-t", formatOffsetArg(durMs),
		"-c", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", destPath,
	}
	slog.Debug("ffmpeg extract",
		slog.String("source", sourceURL),
		slog.String("dest", destPath),
		slog.Int64("start_ms", startMs),
		slog.Int64("duration_ms", durMs),
		slog.String("component", "media"))
	return r.run(ctx, args, durMs, progress)
}

// Thumbnail writes one frame from videoPath at offsetMs to destPath.
func (r *Runner) Thumbnail(ctx context.Context, videoPath, destPath string, offsetMs int64) error {
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-ss", formatOffsetArg(offsetMs),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", destPath,
	}
	return r.run(ctx, args, 0, nil)
}

func (r *Runner) run(ctx context.Context, args []string, totalMs int64, progress func(float64)) error {
	cmd := exec.CommandContext(ctx, r.binary(), args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		streamProgress(stdout, totalMs, progress)
	}()

	err = cmd.Wait()
	<-done
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg canceled: %w", ctx.Err())
		}
		if tail := stderr.String(); tail != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, tail)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// streamProgress consumes ffmpeg's -progress key=value lines and converts
// the output timestamp into a fraction of totalMs. ffmpeg reports
// out_time_us and out_time_ms, both in microseconds.
func streamProgress(r io.Reader, totalMs int64, progress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if progress == nil || totalMs <= 0 {
			continue
		}
		us, ok := parseOutTime(line)
		if !ok {
			continue
		}
		frac := float64(us) / 1000 / float64(totalMs)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		progress(frac)
	}
}

// parseOutTime extracts the microsecond output position, accepting either
// out_time_us or the misleadingly named out_time_ms key.
func parseOutTime(line string) (int64, bool) {
	var val string
	switch {
	case strings.HasPrefix(line, "out_time_us="):
		val = strings.TrimPrefix(line, "out_time_us=")
	case strings.HasPrefix(line, "out_time_ms="):
		val = strings.TrimPrefix(line, "out_time_ms=")
	default:
		return 0, false
	}
	us, err := strconv.ParseInt(val, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return us, true
}

// formatOffsetArg renders a millisecond offset as seconds for ffmpeg, e.g.
// 90500 -> "90.500".
func formatOffsetArg(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// tailBuffer keeps the last chunk of ffmpeg's stderr so error messages stay
// bounded but still carry the tool's complaint.
type tailBuffer struct {
	buf []byte
}

const tailMax = 2048

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailMax {
		t.buf = t.buf[len(t.buf)-tailMax:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
