package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/pulse/internal/workqueue"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return file
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Queue("check").Mode != string(workqueue.AtMostOnce) {
		t.Fatalf("check queue should default to at-most-once")
	}
	if cfg.Queue("add").Mode != string(workqueue.AtLeastOnce) {
		t.Fatalf("add queue should default to at-least-once")
	}
	if !cfg.Worker.AwaitInFlight {
		t.Fatalf("shutdown should await in-flight work by default")
	}
	if cfg.Worker.BlockTimeout() != 2*time.Second {
		t.Fatalf("block timeout default")
	}
}

func TestLoadJSON(t *testing.T) {
	file := writeFile(t, "pulse.json", `{"keyPrefix":"prod:","store":{"backend":"embedded","dataDir":"/tmp/x"},"worker":{"capacity":4}}`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KeyPrefix != "prod:" || cfg.Store.Backend != BackendEmbedded || cfg.Worker.Capacity != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Dispatcher.IntervalMs != 60_000 {
		t.Fatalf("unset fields should keep defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	file := writeFile(t, "pulse.yaml", `
keyPrefix: "stage:"
queues:
  check:
    mode: at-least-once
    group: checkers
dispatcher:
  intervalMs: 15000
evaluator:
  url: http://scanner:8080
  filter:
    minAssetValue: 10
    maxMaintPercentage: 0.2
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts, err := cfg.QueueOptions("check")
	if err != nil {
		t.Fatalf("queue options: %v", err)
	}
	if opts.Mode != workqueue.AtLeastOnce || opts.Group != "checkers" {
		t.Fatalf("unexpected queue options: %+v", opts)
	}
	if cfg.Dispatcher.Interval() != 15*time.Second {
		t.Fatalf("expected 15s interval, got %s", cfg.Dispatcher.Interval())
	}
	if cfg.Evaluator.Filter.MinAssetValue == nil || *cfg.Evaluator.Filter.MinAssetValue != 10 {
		t.Fatalf("filter not decoded")
	}
}

func TestLoadTOML(t *testing.T) {
	file := writeFile(t, "pulse.toml", `
keyPrefix = "t:"

[store]
backend = "embedded"
inMemory = true

[worker.reclaim]
enabled = false
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Store.InMemory || cfg.KeyPrefix != "t:" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Worker.Reclaim.WorkqueueConfig() != nil {
		t.Fatalf("reclaim should be disabled")
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.json", `{"worker":`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("ACCOUNTS_BATCH_SIZE", "250")
	t.Setenv("PULSE_WORKER_CAPACITY", "8")
	t.Setenv("PULSE_QUEUE_CHECK_MODE", "ack")
	t.Setenv("PULSE_WORKER_AWAIT_IN_FLIGHT", "false")
	FromEnv(&cfg)

	if cfg.Store.URL != "redis://cache:6379/1" {
		t.Fatalf("REDIS_URL fallback not applied: %s", cfg.Store.URL)
	}
	if cfg.Worker.BatchSize != 250 || cfg.Worker.Capacity != 8 {
		t.Fatalf("worker overrides not applied: %+v", cfg.Worker)
	}
	if cfg.Queue("check").Mode != "ack" {
		t.Fatalf("queue mode override not applied")
	}
	if cfg.Worker.AwaitInFlight {
		t.Fatalf("await override not applied")
	}

	t.Setenv("PULSE_STORE_URL", "redis://primary:6379/0")
	FromEnv(&cfg)
	if cfg.Store.URL != "redis://primary:6379/0" {
		t.Fatalf("PULSE_STORE_URL should win over REDIS_URL")
	}
}

func TestLoadDotEnv(t *testing.T) {
	file := writeFile(t, ".env", "PULSE_TEST_DOTENV=from-file\nPULSE_TEST_DOTENV_KEEP=from-file\n")
	t.Setenv("PULSE_TEST_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("PULSE_TEST_DOTENV") })

	if err := LoadDotEnv(file, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if v := os.Getenv("PULSE_TEST_DOTENV"); v != "from-file" {
		t.Fatalf("expected from-file, got %q", v)
	}
	if v := os.Getenv("PULSE_TEST_DOTENV_KEEP"); v != "from-env" {
		t.Fatalf("existing variables must win, got %q", v)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	cfg.Worker.Capacity = 0
	cfg.Worker.BlockTimeoutMs = 120_000
	cfg.Queues["check"] = QueueConfig{Mode: "exactly-once"}
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"store.backend", "worker.capacity", "blockTimeoutMs", "queue check", "unknown level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateEmbeddedFsync(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendEmbedded
	cfg.Store.Fsync = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected fsync error")
	}
	cfg.Store.Fsync = "always"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnconfiguredQueueIsAtLeastOnce(t *testing.T) {
	opts, err := Default().QueueOptions("audit")
	if err != nil {
		t.Fatalf("queue options: %v", err)
	}
	if opts.Mode != workqueue.AtLeastOnce {
		t.Fatalf("expected at-least-once, got %s", opts.Mode)
	}
}
