package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Worker.NumWorkers <= 0 {
		t.Error("expected positive default num_workers")
	}
	if cfg.Worker.MaxRetriesPerJob <= 0 {
		t.Error("expected positive default max_retries_per_job")
	}
	if got := cfg.Worker.PollInterval(); got != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", got)
	}
	if got := cfg.Worker.LeaseTimeout(); got != 30*time.Minute {
		t.Errorf("LeaseTimeout = %v, want 30m", got)
	}
	if cfg.Inference.Model == "" || cfg.Inference.ModelVersion == "" {
		t.Error("expected default inference model and model_version")
	}
}

func TestDurationFallbacks(t *testing.T) {
	var w WorkerConfig // zero values
	if w.PollInterval() <= 0 {
		t.Error("PollInterval fallback must be positive")
	}
	if w.LeaseTimeout() <= 0 {
		t.Error("LeaseTimeout fallback must be positive")
	}
	if w.JobTimeout() <= 0 {
		t.Error("JobTimeout fallback must be positive")
	}
	var i InferenceConfig
	if i.Timeout() <= 0 {
		t.Error("inference Timeout fallback must be positive")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("PACKWORKER_TEST_SECRET", "sekrit")

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"${PACKWORKER_TEST_SECRET}", "sekrit"},
		{"prefix-${PACKWORKER_TEST_SECRET}-suffix", "prefix-sekrit-suffix"},
		{"${PACKWORKER_UNSET_VAR}", ""},
	}
	for _, tc := range cases {
		if got := ResolveEnvVars(tc.in); got != tc.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty config written")
	}
}
