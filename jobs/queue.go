package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/onnwee/clip-forge/backend/db"
	"github.com/onnwee/clip-forge/backend/telemetry"
)

// Options configures a Queue. Zero values fall back to defaults.
type Options struct {
	PollInterval     time.Duration // default 5s
	MaxAttempts      int           // default 3
	Workers          int           // default 1
	ProcessorTimeout time.Duration // default 30m; caps one processor invocation
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.ProcessorTimeout <= 0 {
		o.ProcessorTimeout = 30 * time.Minute
	}
	return o
}

// Queue is a polling scheduler over the jobs table. Construct with New,
// register processors, then Start. Multiple workers (and multiple service
// instances) may poll the same table: claiming uses a conditional UPDATE
// with FOR UPDATE SKIP LOCKED so each job gets at most one concurrent
// processing attempt.
type Queue struct {
	db    *sql.DB
	opts  Options
	procs map[Type]Processor

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped queue bound to a database handle.
func New(database *sql.DB, opts Options) *Queue {
	return &Queue{db: database, opts: opts.withDefaults(), procs: map[Type]Processor{}}
}

// Register binds a processor to a job type. Call before Start; the registry
// is not safe for mutation while workers run.
func (q *Queue) Register(t Type, p Processor) {
	q.procs[t] = p
}

// MaxAttempts reports the attempt budget a job gets before the queue fails
// it. Processors use it to tell a retryable failure from the last one.
func (q *Queue) MaxAttempts() int {
	return q.opts.MaxAttempts
}

// Create inserts a pending job and returns it. It never blocks on
// processing; a worker picks the job up on a later tick.
func (q *Queue) Create(ctx context.Context, t Type, vodID string, payload any, priority int) (*Job, error) {
	return q.create(ctx, q.db, t, vodID, payload, priority)
}

// CreateTx inserts a pending job inside an existing transaction, so a
// processor can fan out follow-on jobs atomically with its own rows. The
// job only becomes claimable once the transaction commits.
func (q *Queue) CreateTx(ctx context.Context, tx *sql.Tx, t Type, vodID string, payload any, priority int) (*Job, error) {
	return q.create(ctx, tx, t, vodID, payload, priority)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (q *Queue) create(ctx context.Context, runner rowQuerier, t Type, vodID string, payload any, priority int) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	job := &Job{
		ID:       uuid.New().String(),
		Type:     t,
		Status:   StatusPending,
		VODID:    vodID,
		Payload:  raw,
		Priority: priority,
	}
	err := runner.QueryRowContext(ctx,
		`INSERT INTO jobs (id, type, status, vod_id, payload, priority, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING created_at`,
		job.ID, string(job.Type), string(job.Status), nullable(job.VODID), []byte(raw), job.Priority,
	).Scan(&job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	slog.Debug("job created", slog.String("job_id", job.ID), slog.String("type", string(t)), slog.String("vod_id", vodID), slog.String("component", "jobs"))
	return job, nil
}

// Start launches the worker loops. Idempotent: calling Start on a running
// queue is a no-op. Each worker runs an immediate first tick so a fresh
// boot does not wait a full poll interval.
func (q *Queue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		slog.Debug("job queue already running", slog.String("component", "jobs"))
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	slog.Info("job queue starting",
		slog.Duration("interval", q.opts.PollInterval),
		slog.Int("workers", q.opts.Workers),
		slog.Int("max_attempts", q.opts.MaxAttempts))
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(runCtx, i)
	}
}

// Stop halts polling and waits for in-flight jobs to finish their current
// attempt. Safe to call on a stopped queue.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	q.cancel()
	q.wg.Wait()
	slog.Info("job queue stopped", slog.String("component", "jobs"))
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	defer q.wg.Done()
	logger := slog.Default().With(slog.Int("worker", worker), slog.String("component", "jobs"))
	if err := q.runTick(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("tick failed", slog.Any("err", err))
	}
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.runTick(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("tick failed", slog.Any("err", err))
			}
		}
	}
}

// runTick claims at most one eligible job and processes it to a transition.
// A worker loop is sequential, so no two jobs from the same worker ever run
// concurrently; cross-worker exclusion comes from the claim statement.
func (q *Queue) runTick(ctx context.Context) error {
	_ = dbpkg.SetKV(ctx, q.db, dbpkg.KeyJobTickLast, time.Now().UTC().Format(time.RFC3339Nano))
	job, err := q.claim(ctx)
	if err != nil {
		return err
	}
	if depth, derr := q.PendingDepth(ctx); derr == nil {
		telemetry.SetQueueDepth(depth)
	}
	if job == nil {
		return nil
	}
	q.dispatch(ctx, job)
	return nil
}

// claim atomically moves the best eligible pending job to processing and
// increments its attempt counter. Best = highest priority, then oldest.
// Returns nil when nothing is eligible.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET status='processing', started_at=NOW(), attempts=attempts+1, progress=0
		WHERE id = (
			SELECT id FROM jobs
			WHERE status='pending' AND attempts < $1
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status='pending'
		RETURNING id, type, vod_id, payload, attempts, priority, created_at, started_at`,
		q.opts.MaxAttempts)
	var (
		job     Job
		vodID   sql.NullString
		payload []byte
		started sql.NullTime
	)
	err := row.Scan(&job.ID, (*string)(&job.Type), &vodID, &payload, &job.Attempts, &job.Priority, &job.CreatedAt, &started)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	job.Status = StatusProcessing
	job.VODID = vodID.String
	job.Payload = payload
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	return &job, nil
}

func (q *Queue) dispatch(ctx context.Context, job *Job) {
	// Transition writes must land even when ctx was canceled by Stop or a
	// signal mid-attempt; otherwise the claimed row is stranded in
	// processing and no restart can recover it.
	writeCtx := context.WithoutCancel(ctx)
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("vod_id", job.VODID),
		slog.Int("attempt", job.Attempts),
		slog.String("component", "jobs"))

	proc, ok := q.procs[job.Type]
	if !ok {
		// Misconfiguration: loud, terminal for this job, harmless to the loop.
		msg := fmt.Sprintf("no processor registered for job type %q", job.Type)
		logger.Error("job dispatch failed", slog.String("err", msg))
		q.fail(writeCtx, job, msg)
		return
	}

	if telemetry.JobsClaimed != nil {
		telemetry.JobsClaimed.WithLabelValues(string(job.Type)).Inc()
	}
	logger.Info("job processing")
	ctx, span := telemetry.StartSpan(ctx, "jobs", "process "+string(job.Type),
		telemetry.JobIDAttr(job.ID), telemetry.JobTypeAttr(string(job.Type)), telemetry.VODIDAttr(job.VODID))
	defer span.End()

	start := time.Now()
	result, err := q.invoke(ctx, proc, job)
	dur := time.Since(start)
	if telemetry.JobDuration != nil {
		telemetry.JobDuration.WithLabelValues(string(job.Type)).Observe(dur.Seconds())
	}
	dbpkg.UpdateMovingAvg(writeCtx, q.db, dbpkg.AvgDurationKey(string(job.Type)), float64(dur.Milliseconds()))

	if err != nil {
		telemetry.RecordError(span, err)
		if job.Attempts >= q.opts.MaxAttempts {
			logger.Error("job failed permanently", slog.Any("err", err), slog.Duration("duration", dur))
			q.fail(writeCtx, job, err.Error())
			return
		}
		logger.Warn("job attempt failed; will retry", slog.Any("err", err), slog.Duration("duration", dur))
		q.retry(writeCtx, job, err.Error())
		return
	}
	telemetry.SetSpanSuccess(span)
	logger.Info("job completed", slog.Duration("duration", dur))
	q.complete(writeCtx, job, result)
}

type outcome struct {
	result json.RawMessage
	err    error
}

// invoke runs the processor under a timeout and a panic guard. A panic or a
// timeout is indistinguishable from an explicit failure result: the
// scheduler loop must survive anything a processor does.
func (q *Queue) invoke(ctx context.Context, proc Processor, job *Job) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, q.opts.ProcessorTimeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: fmt.Errorf("processor panic: %v", r)}
			}
			ch <- o
		}()
		o.result, o.err = proc.Process(cctx, job, q.progressFunc(job))
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-cctx.Done():
		return nil, fmt.Errorf("processor for %s timed out or canceled: %w", job.Type, cctx.Err())
	}
}

// progressFunc returns a rate-bounded reporter for one job attempt. At
// most one write per second unless the fraction jumped by 5% or reached 1.
// The status and attempts guards keep a late write, from a terminal race
// or from a goroutine abandoned by an invoke timeout, out of any later
// attempt of the same job.
func (q *Queue) progressFunc(job *Job) ProgressFunc {
	var mu sync.Mutex
	var lastWrite time.Time
	var lastFrac float64
	return func(frac float64) {
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		mu.Lock()
		defer mu.Unlock()
		if frac < 1 && time.Since(lastWrite) < time.Second && frac-lastFrac < 0.05 {
			return
		}
		lastWrite = time.Now()
		lastFrac = frac
		_, _ = q.db.Exec(`UPDATE jobs SET progress=$1, progress_updated_at=NOW() WHERE id=$2 AND status='processing' AND attempts=$3`, frac, job.ID, job.Attempts)
	}
}

// Terminal/retry transitions. All guarded on status='processing' so stale
// writers cannot clobber a newer state.

func (q *Queue) complete(ctx context.Context, job *Job, result json.RawMessage) {
	if telemetry.JobsCompleted != nil {
		telemetry.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status='completed', completed_at=NOW(), result=$2, progress=1, error='' WHERE id=$1 AND status='processing'`,
		job.ID, []byte(result))
	if err != nil {
		slog.Error("job completion write failed", slog.String("job_id", job.ID), slog.Any("err", err), slog.String("component", "jobs"))
	}
}

func (q *Queue) retry(ctx context.Context, job *Job, errMsg string) {
	if telemetry.JobsRetried != nil {
		telemetry.JobsRetried.WithLabelValues(string(job.Type)).Inc()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status='pending', error=$2 WHERE id=$1 AND status='processing'`,
		job.ID, errMsg)
	if err != nil {
		slog.Error("job retry write failed", slog.String("job_id", job.ID), slog.Any("err", err), slog.String("component", "jobs"))
	}
}

func (q *Queue) fail(ctx context.Context, job *Job, errMsg string) {
	if telemetry.JobsFailed != nil {
		telemetry.JobsFailed.WithLabelValues(string(job.Type)).Inc()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status='failed', completed_at=NOW(), error=$2 WHERE id=$1 AND status='processing'`,
		job.ID, errMsg)
	if err != nil {
		slog.Error("job failure write failed", slog.String("job_id", job.ID), slog.Any("err", err), slog.String("component", "jobs"))
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
