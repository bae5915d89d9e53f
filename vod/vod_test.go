package vod

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/onnwee/clip-forge/backend/testutil"
	"github.com/onnwee/clip-forge/backend/twitchapi"
)

func TestParseTwitchDuration(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"3h15m42s", 3*3600 + 15*60 + 42},
		{"45m", 45 * 60},
		{"59s", 59},
		{"1h", 3600},
		{"", 0},
		{"h m s", 0},
		{"10h0m0s", 36000},
	}
	for _, tt := range tests {
		if got := parseTwitchDuration(tt.input); got != tt.want {
			t.Errorf("parseTwitchDuration(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func setupVODDB(t *testing.T) *sql.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	for _, table := range []string{"chat_messages", "clips", "jobs", "vods", "kv"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
	return db
}

func TestUpsertInsertAndRefresh(t *testing.T) {
	db := setupVODDB(t)
	ctx := context.Background()

	date := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	if err := Upsert(ctx, db, VOD{ID: "v1", Channel: "testchannel", Title: "first", Date: date, DurationSeconds: 3600}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := Get(ctx, db, "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" || got.DurationSeconds != 3600 || got.Analyzed {
		t.Errorf("unexpected vod: %+v", got)
	}

	// Refresh must not clobber a known duration with zero, and must not
	// blank the title.
	if err := Upsert(ctx, db, VOD{ID: "v1", Channel: "testchannel", Title: "", Date: date, DurationSeconds: 0}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = Get(ctx, db, "v1")
	if got.Title != "first" || got.DurationSeconds != 3600 {
		t.Errorf("refresh clobbered metadata: %+v", got)
	}

	// A real title update goes through.
	if err := Upsert(ctx, db, VOD{ID: "v1", Channel: "testchannel", Title: "renamed", Date: date, DurationSeconds: 3600}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = Get(ctx, db, "v1")
	if got.Title != "renamed" {
		t.Errorf("title not refreshed: %+v", got)
	}
}

func TestExists(t *testing.T) {
	db := setupVODDB(t)
	ctx := context.Background()

	ok, err := Exists(ctx, db, "missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = (%v, %v)", ok, err)
	}
	if err := Upsert(ctx, db, VOD{ID: "v2", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err = Exists(ctx, db, "v2")
	if err != nil || !ok {
		t.Errorf("Exists(v2) = (%v, %v)", ok, err)
	}
}

func TestResolver(t *testing.T) {
	db := setupVODDB(t)
	ctx := context.Background()

	r := &Resolver{DB: db}
	if _, err := r.Resolve(ctx, "nope"); err == nil {
		t.Error("expected error for unknown vod")
	}

	if err := Upsert(ctx, db, VOD{ID: "v3", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	url, err := r.Resolve(ctx, "v3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if url != "https://www.twitch.tv/videos/v3" {
		t.Errorf("url = %q", url)
	}
}

func TestDiscoverUpsertsFromHelix(t *testing.T) {
	db := setupVODDB(t)
	ctx := context.Background()

	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("tok", 3600)
	mock.MockUserResponse("9001", "testchannel")
	mock.MockVideosResponse([]map[string]string{
		{"id": "v10", "title": "friday stream", "duration": "2h30m", "created_at": "2026-08-28T18:00:00Z"},
		{"id": "v11", "title": "saturday stream", "duration": "1h5m10s", "created_at": "2026-08-29T18:00:00Z"},
	}, "")

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "sec", TokenURL: mock.URL + "/oauth2/token"},
		ClientID:       "cid",
		BaseURL:        mock.URL,
	}
	c := &Catalog{DB: db, Helix: helix, Channel: "testchannel"}

	n, err := c.Discover(ctx)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if n != 2 {
		t.Errorf("discovered %d vods, want 2", n)
	}

	got, err := Get(ctx, db, "v11")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "saturday stream" || got.DurationSeconds != 3910 {
		t.Errorf("unexpected vod: %+v", got)
	}

	// Running again is idempotent.
	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("second discover: %v", err)
	}
	var count int
	_ = db.QueryRow(`SELECT COUNT(*) FROM vods`).Scan(&count)
	if count != 2 {
		t.Errorf("vod rows = %d, want 2", count)
	}
}

func TestDiscoverNoChannelIsNoop(t *testing.T) {
	db := setupVODDB(t)
	c := &Catalog{DB: db, Channel: ""}
	n, err := c.Discover(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Discover with no channel = (%d, %v)", n, err)
	}
}
