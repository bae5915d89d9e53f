// Package jobs implements the Postgres-backed job queue driving the clip
// pipeline. Workers poll for pending jobs, claim one atomically, dispatch it
// to the processor registered for its type, and apply the resulting state
// transition (completed, retry, or failed). Processors never touch job
// status themselves; they return an outcome and the queue owns the record.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Type discriminates pipeline stages.
type Type string

const (
	TypeAnalyzeVOD  Type = "analyze_vod"
	TypeExtractClip Type = "extract_clip"
	TypeUploadClip  Type = "upload_clip"
)

// Status is the job lifecycle state. Transitions: pending -> processing ->
// {completed | pending (retry) | failed}. Completed and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Job is one unit of pipeline work with its own retry budget.
type Job struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	VODID       string          `json:"vod_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Priority    int             `json:"priority"`
	Progress    float64         `json:"progress"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ProgressFunc reports fractional progress (0..1) for a running job. Updates
// are rate-bounded by the queue and are a side channel: they never affect
// the terminal state transition.
type ProgressFunc func(fraction float64)

// Processor performs the work for exactly one job type. A non-nil error
// means the attempt failed; the queue decides between retry and terminal
// failure. The returned payload is stored as the job result on success.
type Processor interface {
	Process(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error) {
	return f(ctx, job, report)
}
