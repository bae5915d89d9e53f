package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/clip-forge/backend/chat"
	"github.com/onnwee/clip-forge/backend/db"
	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/pipeline"
	"github.com/onnwee/clip-forge/backend/telemetry"
	"github.com/onnwee/clip-forge/backend/vod"
)

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	DB    *sql.DB
	Queue *jobs.Queue
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealthz reports process liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadyz reports readiness; the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus summarizes the queue and catalog for dashboards.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	if lastTick, err := db.GetKV(ctx, h.DB, db.KeyJobTickLast); err == nil && lastTick != "" {
		out["job_tick_last"] = lastTick
	}
	if depth, err := h.Queue.PendingDepth(ctx); err == nil {
		out["jobs_pending"] = depth
	}

	var vodTotal, vodAnalyzed, clipsReady int
	_ = h.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM vods`).Scan(&vodTotal)
	_ = h.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM vods WHERE analyzed`).Scan(&vodAnalyzed)
	_ = h.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips WHERE status='ready'`).Scan(&clipsReady)
	out["vods_total"] = vodTotal
	out["vods_analyzed"] = vodAnalyzed
	out["clips_ready"] = clipsReady

	writeJSON(w, http.StatusOK, out)
}

// HandleJobGet serves GET /jobs/{id}.
func (h *Handlers) HandleJobGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, err := h.Queue.Get(r.Context(), id)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleVodsDispatcher routes /vods/{id}/<op>.
func (h *Handlers) HandleVodsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/vods/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	vodID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "analyze" && r.Method == http.MethodPost:
		h.handleVodAnalyze(w, r, vodID)
	case len(parts) == 3 && parts[1] == "chat" && parts[2] == "import" && r.Method == http.MethodPost:
		h.handleVodChatImport(w, r, vodID)
	case len(parts) == 2 && parts[1] == "jobs" && r.Method == http.MethodGet:
		h.handleVodJobs(w, r, vodID)
	case len(parts) == 2 && parts[1] == "clips" && r.Method == http.MethodGet:
		h.handleVodClips(w, r, vodID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handlers) handleVodAnalyze(w http.ResponseWriter, r *http.Request, vodID string) {
	ctx := r.Context()
	ok, err := vod.Exists(ctx, h.DB, vodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "vod not found")
		return
	}
	job, err := h.Queue.Create(ctx, jobs.TypeAnalyzeVOD, vodID, nil, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("analyze requested",
		slog.String("vod_id", vodID), slog.String("job_id", job.ID), slog.String("component", "http"))
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) handleVodChatImport(w http.ResponseWriter, r *http.Request, vodID string) {
	ctx := r.Context()
	ok, err := vod.Exists(ctx, h.DB, vodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "vod not found")
		return
	}
	// The import walks the whole VOD; run it detached from the request.
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Hour)
		defer cancel()
		if err := chat.Import(bg, h.DB, vodID); err != nil {
			slog.Warn("chat import failed", slog.String("vod_id", vodID), slog.Any("err", err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "import started", "vod_id": vodID})
}

func (h *Handlers) handleVodJobs(w http.ResponseWriter, r *http.Request, vodID string) {
	list, err := h.Queue.ListForVOD(r.Context(), vodID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleVodClips(w http.ResponseWriter, r *http.Request, vodID string) {
	list, err := pipeline.ListClips(r.Context(), h.DB, vodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []*pipeline.Clip{}
	}
	writeJSON(w, http.StatusOK, list)
}
