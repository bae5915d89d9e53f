// Package chat ingests Twitch chat into the chat_messages table, either
// live over IRC while a stream runs or after the fact from the VOD chat
// replay API, and serves it back as a detection transcript.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/clip-forge/backend/config"
)

// StartRecorder connects to Twitch IRC and records every chat message for a
// live session, stamping each row with its offset from vodStart so replay
// lines up with the archived VOD. Blocks until ctx is canceled.
func StartRecorder(ctx context.Context, db *sql.DB, cfg config.Config, vodID string, vodStart time.Time) {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch creds not set; skipping chat recorder", slog.Any("err", err))
		return
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		absTime := time.Now().UTC()
		relTime := absTime.Sub(vodStart).Seconds()
		badges := joinBadges(msg.User.Badges)
		emotes := joinEmotes(msg.Emotes)
		if _, err := db.Exec(
			`INSERT INTO chat_messages (vod_id, username, message, abs_timestamp, rel_timestamp, badges, emotes, color)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			vodID, msg.User.Name, msg.Message, absTime, relTime, badges, emotes, msg.User.Color); err != nil {
			slog.Error("failed to insert chat message", slog.Any("err", err), slog.String("component", "chat"))
		}
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("chat recorder connected",
		slog.String("channel", cfg.TwitchChannel),
		slog.String("vod_id", vodID),
		slog.String("component", "chat"))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err), slog.String("component", "chat"))
	}
	<-done
}

func joinBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	parts := make([]string, 0, len(badges))
	for k, v := range badges {
		parts = append(parts, fmt.Sprintf("%s:%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func joinEmotes(emotes []*twitch.Emote) string {
	if len(emotes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(emotes))
	for _, e := range emotes {
		parts = append(parts, e.Name)
	}
	return strings.Join(parts, ",")
}
