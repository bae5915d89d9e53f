package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/testutil"
	"github.com/onnwee/clip-forge/backend/vod"
)

func setupServer(t *testing.T) (*sql.DB, http.Handler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	for _, table := range []string{"chat_messages", "clips", "jobs", "vods"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
	queue := jobs.New(db, jobs.Options{})
	return db, NewMux(db, queue)
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	_, h := setupServer(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation id header missing")
	}
}

func TestReadyz(t *testing.T) {
	_, h := setupServer(t)
	rec := doRequest(t, h, http.MethodGet, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusCounts(t *testing.T) {
	db, h := setupServer(t)
	if err := vod.Upsert(context.Background(), db, vod.VOD{ID: "v1", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["vods_total"] != float64(1) {
		t.Errorf("vods_total = %v", body["vods_total"])
	}
}

func TestAnalyzeUnknownVOD(t *testing.T) {
	_, h := setupServer(t)
	rec := doRequest(t, h, http.MethodPost, "/vods/ghost/analyze")
	if rec.Code != http.StatusNotFound {
		t.Errorf("analyze unknown vod = %d", rec.Code)
	}
}

func TestAnalyzeEnqueuesJob(t *testing.T) {
	db, h := setupServer(t)
	if err := vod.Upsert(context.Background(), db, vod.VOD{ID: "v2", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec := doRequest(t, h, http.MethodPost, "/vods/v2/analyze")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("analyze = %d: %s", rec.Code, rec.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Type != jobs.TypeAnalyzeVOD || job.Status != jobs.StatusPending || job.VODID != "v2" {
		t.Errorf("unexpected job: %+v", job)
	}

	// The created job is visible under both lookup routes.
	rec = doRequest(t, h, http.MethodGet, "/jobs/"+job.ID)
	if rec.Code != http.StatusOK {
		t.Errorf("job get = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/vods/v2/jobs")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), job.ID) {
		t.Errorf("vod jobs = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJobGetNotFound(t *testing.T) {
	_, h := setupServer(t)
	rec := doRequest(t, h, http.MethodGet, "/jobs/00000000-0000-0000-0000-000000000000")
	if rec.Code != http.StatusNotFound {
		t.Errorf("job get = %d", rec.Code)
	}
}

func TestVodClipsEmptyList(t *testing.T) {
	db, h := setupServer(t)
	if err := vod.Upsert(context.Background(), db, vod.VOD{ID: "v3", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec := doRequest(t, h, http.MethodGet, "/vods/v3/clips")
	if rec.Code != http.StatusOK {
		t.Fatalf("clips = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty clip list should serialize as [], got %s", rec.Body.String())
	}
}

func TestMethodRouting(t *testing.T) {
	db, h := setupServer(t)
	if err := vod.Upsert(context.Background(), db, vod.VOD{ID: "v4", Channel: "c"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// GET on a POST-only route falls through to 404.
	rec := doRequest(t, h, http.MethodGet, "/vods/v4/analyze")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET analyze = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodOptions, "/vods/v4/analyze")
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS preflight = %d", rec.Code)
	}
}
