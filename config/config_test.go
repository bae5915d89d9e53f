package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "DATA_DIR", "JOB_POLL_INTERVAL", "JOB_MAX_ATTEMPTS", "JOB_WORKERS", "S3_BUCKET"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "data" {
		t.Fatalf("DataDir %q", cfg.DataDir)
	}
	if cfg.QueuePollInterval != 5*time.Second {
		t.Fatalf("poll interval %v", cfg.QueuePollInterval)
	}
	if cfg.QueueMaxAttempts != 3 {
		t.Fatalf("max attempts %d", cfg.QueueMaxAttempts)
	}
	if cfg.QueueWorkers != 1 {
		t.Fatalf("workers %d", cfg.QueueWorkers)
	}
	if cfg.S3Bucket != "clips" {
		t.Fatalf("bucket %q", cfg.S3Bucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOB_POLL_INTERVAL", "250ms")
	t.Setenv("JOB_MAX_ATTEMPTS", "5")
	t.Setenv("JOB_WORKERS", "4")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueuePollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval %v", cfg.QueuePollInterval)
	}
	if cfg.QueueMaxAttempts != 5 || cfg.QueueWorkers != 4 {
		t.Fatalf("attempts=%d workers=%d", cfg.QueueMaxAttempts, cfg.QueueWorkers)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("JOB_POLL_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid JOB_POLL_INTERVAL")
	}
	t.Setenv("JOB_POLL_INTERVAL", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-positive JOB_MAX_ATTEMPTS")
	}
}

func TestValidateChatReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateChatReady(); err == nil {
		t.Fatal("expected error with missing creds")
	}
	cfg = &Config{TwitchChannel: "c", TwitchBotUsername: "b", TwitchOAuthToken: "t"}
	if err := cfg.ValidateChatReady(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
