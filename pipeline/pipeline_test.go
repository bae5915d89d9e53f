package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/clip-forge/backend/highlight"
	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/testutil"
)

// Fake collaborators. Each records enough to assert on and fails on demand.

type fakeTranscripts struct {
	msgs []highlight.ChatMessage
	err  error
}

func (f *fakeTranscripts) Transcript(ctx context.Context, vodID string) ([]highlight.ChatMessage, error) {
	return f.msgs, f.err
}

type fakeResolver struct {
	url string
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, vodID string) (string, error) {
	return f.url, f.err
}

type fakeTranscoder struct {
	extractErr   error
	thumbErr     error
	extractCalls int
	lastSource   string
	lastStart    int64
	lastEnd      int64
}

func (f *fakeTranscoder) Extract(ctx context.Context, sourceURL, destPath string, startMs, endMs int64, progress func(float64)) error {
	f.extractCalls++
	f.lastSource = sourceURL
	f.lastStart = startMs
	f.lastEnd = endMs
	if f.extractErr != nil {
		return f.extractErr
	}
	progress(0.5)
	progress(1)
	return os.WriteFile(destPath, []byte("video"), 0o644)
}

func (f *fakeTranscoder) Thumbnail(ctx context.Context, videoPath, destPath string, offsetMs int64) error {
	if f.thumbErr != nil {
		return f.thumbErr
	}
	return os.WriteFile(destPath, []byte("jpeg"), 0o644)
}

type fakeStore struct {
	uploads map[string]string // objectName -> localPath
	err     error
}

func (f *fakeStore) Upload(ctx context.Context, localPath, objectName, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[objectName] = localPath
	return "https://cdn.example.com/" + objectName, nil
}

func (f *fakeStore) Remove(ctx context.Context, objectName string) error { return nil }

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	for _, table := range []string{"jobs", "clips", "chat_messages", "vods"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
	return db
}

func insertVOD(t *testing.T, db *sql.DB, vodID string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO vods (twitch_vod_id, channel, title) VALUES ($1,'testchannel','test vod')`, vodID)
	if err != nil {
		t.Fatalf("insert vod: %v", err)
	}
}

func noProgress(float64) {}

// spikeTranscript builds a transcript with one obvious highlight burst.
func spikeTranscript() []highlight.ChatMessage {
	var msgs []highlight.ChatMessage
	for i := 0; i < 12; i++ {
		msgs = append(msgs, highlight.ChatMessage{
			TimestampMs: int64(i) * 1500,
			Sender:      fmt.Sprintf("user%d", i%6),
			Text:        "that was insane lets go",
			Emotes:      []string{"PogChamp"},
		})
	}
	return msgs
}

func TestAnalyzeNoChatData(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v100")
	q := jobs.New(db, jobs.Options{})
	a := &Analyzer{DB: db, Transcripts: &fakeTranscripts{}, Resolver: &fakeResolver{url: "https://src"}, Queue: q}

	job := &jobs.Job{ID: "j1", Type: jobs.TypeAnalyzeVOD, VODID: "v100"}
	_, err := a.Process(context.Background(), job, noProgress)
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
	if !strings.Contains(err.Error(), "No chat data found for VOD") {
		t.Errorf("error = %q, want chat-data message", err)
	}

	var analyzed bool
	if err := db.QueryRow(`SELECT analyzed FROM vods WHERE twitch_vod_id='v100'`).Scan(&analyzed); err != nil {
		t.Fatalf("query vod: %v", err)
	}
	if analyzed {
		t.Error("VOD must not be marked analyzed on failure")
	}
	clips, _ := ListClips(context.Background(), db, "v100")
	if len(clips) != 0 {
		t.Errorf("no clips should exist, got %d", len(clips))
	}
}

func TestAnalyzeResolverFailure(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v101")
	q := jobs.New(db, jobs.Options{})
	a := &Analyzer{
		DB:          db,
		Transcripts: &fakeTranscripts{msgs: spikeTranscript()},
		Resolver:    &fakeResolver{err: errors.New("helix 503")},
		Queue:       q,
	}

	job := &jobs.Job{ID: "j1", Type: jobs.TypeAnalyzeVOD, VODID: "v101"}
	if _, err := a.Process(context.Background(), job, noProgress); err == nil {
		t.Fatal("expected resolver error to propagate")
	}
	var analyzed bool
	_ = db.QueryRow(`SELECT analyzed FROM vods WHERE twitch_vod_id='v101'`).Scan(&analyzed)
	if analyzed {
		t.Error("VOD state must be unchanged when resolution fails")
	}
}

func TestAnalyzeCreatesClipsAndExtractJobs(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v102")
	q := jobs.New(db, jobs.Options{})
	a := &Analyzer{
		DB:          db,
		Transcripts: &fakeTranscripts{msgs: spikeTranscript()},
		Resolver:    &fakeResolver{url: "https://www.twitch.tv/videos/v102"},
		Queue:       q,
	}

	job := &jobs.Job{ID: "j1", Type: jobs.TypeAnalyzeVOD, VODID: "v102", Priority: 1}
	raw, err := a.Process(context.Background(), job, noProgress)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var result AnalyzeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ClipCount < 1 || len(result.ClipIDs) != result.ClipCount {
		t.Fatalf("unexpected result: %+v", result)
	}

	clips, err := ListClips(context.Background(), db, "v102")
	if err != nil {
		t.Fatalf("list clips: %v", err)
	}
	if len(clips) != result.ClipCount {
		t.Fatalf("clip rows = %d, result says %d", len(clips), result.ClipCount)
	}
	for _, c := range clips {
		if c.Status != ClipPending {
			t.Errorf("new clip status = %s, want pending", c.Status)
		}
		if c.Confidence < 0.4 {
			t.Errorf("stored clip below confidence floor: %v", c.Confidence)
		}
	}

	extractJobs, err := q.ListForVOD(context.Background(), "v102", 50)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(extractJobs) != result.ClipCount {
		t.Fatalf("extract jobs = %d, want %d", len(extractJobs), result.ClipCount)
	}
	for _, ej := range extractJobs {
		if ej.Type != jobs.TypeExtractClip {
			t.Errorf("job type = %s", ej.Type)
		}
		var p ExtractPayload
		if err := json.Unmarshal(ej.Payload, &p); err != nil {
			t.Fatalf("decode extract payload: %v", err)
		}
		if p.SourceURL != "https://www.twitch.tv/videos/v102" || p.ClipID == "" || p.EndMs <= p.StartMs {
			t.Errorf("bad extract payload: %+v", p)
		}
	}

	var analyzed bool
	if err := db.QueryRow(`SELECT analyzed FROM vods WHERE twitch_vod_id='v102'`).Scan(&analyzed); err != nil {
		t.Fatalf("query vod: %v", err)
	}
	if !analyzed {
		t.Error("VOD should be marked analyzed")
	}
}

func TestExtractSuccessEnqueuesUpload(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v200")
	q := jobs.New(db, jobs.Options{})
	dataDir := t.TempDir()

	clipID := insertTestClip(t, db, "v200", 30000, 60000)
	tc := &fakeTranscoder{}
	e := &Extractor{DB: db, Transcoder: tc, Queue: q, DataDir: dataDir}

	payload, _ := json.Marshal(ExtractPayload{ClipID: clipID, SourceURL: "https://src", StartMs: 30000, EndMs: 60000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeExtractClip, VODID: "v200", Payload: payload}
	raw, err := e.Process(context.Background(), job, noProgress)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var result ExtractResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.DurationMs != 30000 {
		t.Errorf("duration = %d, want 30000", result.DurationMs)
	}
	if _, err := os.Stat(result.LocalPath); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	clip, err := GetClip(context.Background(), db, clipID)
	if err != nil {
		t.Fatalf("get clip: %v", err)
	}
	if clip.Status != ClipExtracted || clip.LocalPath != result.LocalPath {
		t.Errorf("clip after extract: %+v", clip)
	}

	uploadJobs, _ := q.ListForVOD(context.Background(), "v200", 10)
	if len(uploadJobs) != 1 || uploadJobs[0].Type != jobs.TypeUploadClip {
		t.Fatalf("expected one upload job, got %+v", uploadJobs)
	}
	var up UploadPayload
	if err := json.Unmarshal(uploadJobs[0].Payload, &up); err != nil {
		t.Fatalf("decode upload payload: %v", err)
	}
	if up.ClipID != clipID || up.LocalPath != result.LocalPath || up.DurationMs != 30000 {
		t.Errorf("bad upload payload: %+v", up)
	}
}

func TestExtractFatalFailureMarksClipFailed(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v201")
	q := jobs.New(db, jobs.Options{})
	clipID := insertTestClip(t, db, "v201", 0, 30000)

	tc := &fakeTranscoder{extractErr: errors.New("ffmpeg: https://src: 404 Not Found")}
	e := &Extractor{DB: db, Transcoder: tc, Queue: q, DataDir: t.TempDir()}

	payload, _ := json.Marshal(ExtractPayload{ClipID: clipID, SourceURL: "https://src", StartMs: 0, EndMs: 30000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeExtractClip, VODID: "v201", Payload: payload}
	if _, err := e.Process(context.Background(), job, noProgress); err == nil {
		t.Fatal("expected extract error")
	}

	clip, _ := GetClip(context.Background(), db, clipID)
	if clip.Status != ClipFailed {
		t.Errorf("clip status = %s, want failed", clip.Status)
	}
	if clip.Error == "" {
		t.Error("clip should carry the tool error")
	}

	// Cut failure must not cascade into an upload job.
	followOn, _ := q.ListForVOD(context.Background(), "v201", 10)
	if len(followOn) != 0 {
		t.Errorf("no follow-on jobs expected, got %d", len(followOn))
	}
}

func TestExtractRetryableFailureKeepsClipPending(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v202")
	q := jobs.New(db, jobs.Options{})
	clipID := insertTestClip(t, db, "v202", 0, 30000)

	tc := &fakeTranscoder{extractErr: errors.New("read tcp: connection reset by peer")}
	e := &Extractor{DB: db, Transcoder: tc, Queue: q, DataDir: t.TempDir()}

	payload, _ := json.Marshal(ExtractPayload{ClipID: clipID, SourceURL: "https://src", StartMs: 0, EndMs: 30000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeExtractClip, VODID: "v202", Payload: payload}
	if _, err := e.Process(context.Background(), job, noProgress); err == nil {
		t.Fatal("expected extract error")
	}

	clip, _ := GetClip(context.Background(), db, clipID)
	if clip.Status != ClipPending {
		t.Errorf("clip status = %s, want pending for retry", clip.Status)
	}
	if clip.Error == "" {
		t.Error("retryable failure should still record the error")
	}
}

func TestExtractRetryableFailureOnFinalAttemptMarksClipFailed(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v203")
	q := jobs.New(db, jobs.Options{MaxAttempts: 3})
	clipID := insertTestClip(t, db, "v203", 0, 30000)

	tc := &fakeTranscoder{extractErr: errors.New("read tcp: connection reset by peer")}
	e := &Extractor{DB: db, Transcoder: tc, Queue: q, DataDir: t.TempDir()}

	payload, _ := json.Marshal(ExtractPayload{ClipID: clipID, SourceURL: "https://src", StartMs: 0, EndMs: 30000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeExtractClip, VODID: "v203", Payload: payload, Attempts: 3}
	if _, err := e.Process(context.Background(), job, noProgress); err == nil {
		t.Fatal("expected extract error")
	}

	// The queue fails the job after this attempt, so leaving the clip
	// pending would orphan it with no job left to move it.
	clip, _ := GetClip(context.Background(), db, clipID)
	if clip.Status != ClipFailed {
		t.Errorf("clip status = %s, want failed on exhausted attempts", clip.Status)
	}
	if clip.Error == "" {
		t.Error("clip should carry the tool error")
	}
}

// twoSpikeTranscript builds a transcript with two bursts far enough apart
// that they stay separate moments.
func twoSpikeTranscript() []highlight.ChatMessage {
	var msgs []highlight.ChatMessage
	for _, base := range []int64{0, 120000} {
		for i := 0; i < 12; i++ {
			msgs = append(msgs, highlight.ChatMessage{
				TimestampMs: base + int64(i)*1500,
				Sender:      fmt.Sprintf("user%d", i%6),
				Text:        "that was insane lets go",
				Emotes:      []string{"PogChamp"},
			})
		}
	}
	return msgs
}

// A fan-out that dies partway through must leave nothing behind, so the
// queue's retry of the analyze job cannot duplicate clips or extract jobs.
func TestAnalyzeRetryAfterPartialFailureHasNoDuplicates(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v103")
	q := jobs.New(db, jobs.Options{})
	a := &Analyzer{
		DB:          db,
		Transcripts: &fakeTranscripts{msgs: twoSpikeTranscript()},
		Resolver:    &fakeResolver{url: "https://www.twitch.tv/videos/v103"},
		Queue:       q,
	}
	job := &jobs.Job{ID: "j1", Type: jobs.TypeAnalyzeVOD, VODID: "v103"}

	// First attempt: kill the context after the first moment is written,
	// so the second insert fails mid-loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := a.Process(ctx, job, func(frac float64) {
		if frac > 0.5 && frac < 1 {
			cancel()
		}
	}); err == nil {
		t.Fatal("expected mid-fan-out failure")
	}

	clips, _ := ListClips(context.Background(), db, "v103")
	if len(clips) != 0 {
		t.Fatalf("partial fan-out left %d clip rows behind", len(clips))
	}
	partial, _ := q.ListForVOD(context.Background(), "v103", 50)
	if len(partial) != 0 {
		t.Fatalf("partial fan-out left %d jobs behind", len(partial))
	}
	var analyzed bool
	_ = db.QueryRow(`SELECT analyzed FROM vods WHERE twitch_vod_id='v103'`).Scan(&analyzed)
	if analyzed {
		t.Error("VOD must not be marked analyzed by a failed fan-out")
	}

	// Retry succeeds and produces exactly one clip and one job per moment.
	raw, err := a.Process(context.Background(), job, noProgress)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	var result AnalyzeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ClipCount != 2 {
		t.Fatalf("clip count = %d, want 2", result.ClipCount)
	}
	clips, _ = ListClips(context.Background(), db, "v103")
	if len(clips) != 2 {
		t.Errorf("clip rows = %d, want 2", len(clips))
	}
	extractJobs, _ := q.ListForVOD(context.Background(), "v103", 50)
	if len(extractJobs) != 2 {
		t.Errorf("extract jobs = %d, want 2", len(extractJobs))
	}
}

func TestUploadMarksClipReady(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v300")
	clipID := insertTestClip(t, db, "v300", 0, 30000)

	dataDir := t.TempDir()
	localPath := filepath.Join(dataDir, clipID+".mp4")
	if err := os.WriteFile(localPath, []byte("video"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	store := &fakeStore{}
	u := &Uploader{DB: db, Store: store, Transcoder: &fakeTranscoder{}}

	payload, _ := json.Marshal(UploadPayload{ClipID: clipID, LocalPath: localPath, DurationMs: 30000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeUploadClip, VODID: "v300", Payload: payload}
	raw, err := u.Process(context.Background(), job, noProgress)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var result UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.StorageURL == "" || result.ThumbnailURL == "" {
		t.Errorf("result should carry both URLs: %+v", result)
	}

	clip, _ := GetClip(context.Background(), db, clipID)
	if clip.Status != ClipReady {
		t.Errorf("clip status = %s, want ready", clip.Status)
	}
	if clip.StorageURL != result.StorageURL || clip.ThumbnailURL != result.ThumbnailURL {
		t.Errorf("clip URLs not persisted: %+v", clip)
	}
	if _, err := os.Stat(localPath); !os.IsNotExist(err) {
		t.Error("local artifact should be removed after upload")
	}
}

func TestUploadThumbnailFailureIsNonFatal(t *testing.T) {
	db := setupDB(t)
	insertVOD(t, db, "v301")
	clipID := insertTestClip(t, db, "v301", 0, 30000)

	localPath := filepath.Join(t.TempDir(), clipID+".mp4")
	if err := os.WriteFile(localPath, []byte("video"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	u := &Uploader{DB: db, Store: &fakeStore{}, Transcoder: &fakeTranscoder{thumbErr: errors.New("no frame")}}

	payload, _ := json.Marshal(UploadPayload{ClipID: clipID, LocalPath: localPath, DurationMs: 30000})
	job := &jobs.Job{ID: "j1", Type: jobs.TypeUploadClip, VODID: "v301", Payload: payload}
	raw, err := u.Process(context.Background(), job, noProgress)
	if err != nil {
		t.Fatalf("upload should survive thumbnail failure: %v", err)
	}
	var result UploadResult
	_ = json.Unmarshal(raw, &result)
	if result.ThumbnailURL != "" {
		t.Error("thumbnail URL should be empty when generation fails")
	}

	clip, _ := GetClip(context.Background(), db, clipID)
	if clip.Status != ClipReady {
		t.Errorf("clip status = %s, want ready", clip.Status)
	}
}

func insertTestClip(t *testing.T, db *sql.DB, vodID string, startMs, endMs int64) string {
	t.Helper()
	m := highlight.Moment{
		StartMs:       startMs,
		EndMs:         endMs,
		MessageCount:  10,
		UniqueSenders: 5,
		Confidence:    0.8,
		Keywords:      []string{"insane"},
		TopEmotes:     []string{"PogChamp"},
		Reason:        "activity spike",
	}
	id := fmt.Sprintf("00000000-0000-0000-0000-%012d", startMs+endMs)
	if err := insertClip(context.Background(), db, id, vodID, "test clip", m); err != nil {
		t.Fatalf("insert clip: %v", err)
	}
	return id
}
