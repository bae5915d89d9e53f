package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Well-known kv keys. The kv table is the service's small operational
// scratchpad: worker heartbeat, catalog pagination checkpoint, and the
// per-job-type duration averages.
const (
	KeyJobTickLast  = "job_tick_last" // RFC3339Nano timestamp of the last queue tick
	KeyCatalogAfter = "catalog_after" // Helix pagination cursor for VOD discovery
)

// AvgDurationKey names the moving-average duration entry for one job type,
// e.g. avg_analyze_vod_ms.
func AvgDurationKey(jobType string) string {
	return "avg_" + jobType + "_ms"
}

// SetKV upserts a key/value pair in the kv table.
func SetKV(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// GetKV returns the value for a key, or empty string when absent.
func GetKV(ctx context.Context, db *sql.DB, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// DeleteKV removes a key. Deleting an absent key is not an error.
func DeleteKV(ctx context.Context, db *sql.DB, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key=$1`, key)
	return err
}

// UpdateMovingAvg maintains an exponential moving average stored in kv,
// used for the per-job-type duration estimates surfaced on /status.
// alpha = 0.2 (new contributes 20%). Values stored as integer milliseconds.
func UpdateMovingAvg(ctx context.Context, db *sql.DB, key string, newVal float64) {
	const alpha = 0.2
	existing, err := GetKV(ctx, db, key)
	if err != nil || existing == "" {
		_ = SetKV(ctx, db, key, fmt.Sprintf("%.0f", newVal))
		return
	}
	var old float64
	if v, err := strconv.ParseFloat(existing, 64); err == nil {
		old = v
	}
	ema := alpha*newVal + (1-alpha)*old
	_ = SetKV(ctx, db, key, fmt.Sprintf("%.0f", ema))
}
