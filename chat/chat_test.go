package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/clip-forge/backend/testutil"
)

func setupChatDB(t *testing.T, vodID string) *sql.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	for _, table := range []string{"chat_messages", "clips", "jobs", "vods"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
	if _, err := db.Exec(
		`INSERT INTO vods (twitch_vod_id, channel, date, duration_seconds) VALUES ($1,'testchannel',NOW(),90)`,
		vodID); err != nil {
		t.Fatalf("insert vod: %v", err)
	}
	return db
}

func TestTranscriptOrderAndEmotes(t *testing.T) {
	db := setupChatDB(t, "v1")
	ctx := context.Background()

	// Inserted out of order on purpose.
	rowsIn := []struct {
		user, text, emotes string
		rel                float64
	}{
		{"bob", "second", "", 10.5},
		{"alice", "first KEKW", "KEKW", 1.25},
		{"carol", "third", "PogChamp,catJAM", 20},
	}
	for _, r := range rowsIn {
		if _, err := db.Exec(
			`INSERT INTO chat_messages (vod_id, username, message, abs_timestamp, rel_timestamp, badges, emotes, color)
			 VALUES ('v1',$1,$2,NOW(),$3,'',$4,'')`, r.user, r.text, r.rel, r.emotes); err != nil {
			t.Fatalf("insert chat row: %v", err)
		}
	}

	msgs, err := (&Transcripts{DB: db}).Transcript(ctx, "v1")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Sender != "alice" || msgs[1].Sender != "bob" || msgs[2].Sender != "carol" {
		t.Errorf("messages not ordered by offset: %+v", msgs)
	}
	if msgs[0].TimestampMs != 1250 {
		t.Errorf("rel 1.25s should become 1250ms, got %d", msgs[0].TimestampMs)
	}
	if len(msgs[2].Emotes) != 2 || msgs[2].Emotes[0] != "PogChamp" {
		t.Errorf("emotes not split: %+v", msgs[2].Emotes)
	}
	if msgs[0].Emotes == nil || len(msgs[0].Emotes) != 1 {
		t.Errorf("single emote not parsed: %+v", msgs[0].Emotes)
	}
}

func TestTranscriptEmptyVOD(t *testing.T) {
	db := setupChatDB(t, "v2")
	msgs, err := (&Transcripts{DB: db}).Transcript(context.Background(), "v2")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty transcript, got %d", len(msgs))
	}
}

func TestImportFromReplayAPI(t *testing.T) {
	db := setupChatDB(t, "v3")

	// One page of messages, then empties until the importer gives up.
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pages++
		type attrs struct {
			ID        string    `json:"id"`
			Timestamp time.Time `json:"timestamp"`
			Offset    float64   `json:"offset"`
			Message   any       `json:"message"`
		}
		var data []map[string]any
		if r.URL.Query().Get("offset") == "0" {
			for i := 0; i < 3; i++ {
				data = append(data, map[string]any{"attributes": attrs{
					ID:     fmt.Sprintf("m%d", i),
					Offset: float64(i * 5),
					Message: map[string]any{
						"body": fmt.Sprintf("message %d", i),
						"user": map[string]string{"displayName": fmt.Sprintf("user%d", i)},
					},
				}})
			}
			// A duplicate the importer must drop.
			data = append(data, map[string]any{"attributes": attrs{
				ID:     "m0",
				Offset: 0,
				Message: map[string]any{
					"body": "message 0",
					"user": map[string]string{"displayName": "user0"},
				},
			}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	old := rechatBaseURL
	rechatBaseURL = srv.URL
	defer func() { rechatBaseURL = old }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := Import(ctx, db, "v3"); err != nil {
		t.Fatalf("import: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE vod_id='v3'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("imported %d rows, want 3 (duplicate dropped)", count)
	}
	if pages == 0 {
		t.Error("mock server was never queried")
	}
}

func TestJoinBadgesDeterministic(t *testing.T) {
	got := joinBadges(map[string]int{"subscriber": 12, "moderator": 1})
	if got != "moderator:1,subscriber:12" {
		t.Errorf("joinBadges = %q", got)
	}
	if joinBadges(nil) != "" {
		t.Error("empty badges should render empty")
	}
}
