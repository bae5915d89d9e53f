package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/onnwee/clip-forge/backend/highlight"
)

// Transcripts reads recorded chat back out of chat_messages as a detection
// transcript ordered by offset into the VOD.
type Transcripts struct {
	DB *sql.DB
}

func (t *Transcripts) Transcript(ctx context.Context, vodID string) ([]highlight.ChatMessage, error) {
	rows, err := t.DB.QueryContext(ctx, `
		SELECT username, message, rel_timestamp, COALESCE(emotes, '')
		FROM chat_messages
		WHERE vod_id=$1
		ORDER BY rel_timestamp ASC`, vodID)
	if err != nil {
		return nil, fmt.Errorf("query chat transcript: %w", err)
	}
	defer rows.Close()

	var msgs []highlight.ChatMessage
	for rows.Next() {
		var (
			username sql.NullString
			message  sql.NullString
			rel      float64
			emotes   string
		)
		if err := rows.Scan(&username, &message, &rel, &emotes); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		msgs = append(msgs, highlight.ChatMessage{
			TimestampMs: int64(rel * 1000),
			Sender:      username.String,
			Text:        message.String,
			Emotes:      splitEmotes(emotes),
		})
	}
	return msgs, rows.Err()
}

func splitEmotes(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
