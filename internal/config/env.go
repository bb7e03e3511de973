package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays PULSE_* environment variables onto cfg. REDIS_URL and
// ACCOUNTS_BATCH_SIZE are honored when their PULSE_ counterparts are unset.
func FromEnv(cfg *Config) {
	if v := firstEnv("PULSE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := firstEnv("PULSE_STORE_URL", "REDIS_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := firstEnv("PULSE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := firstEnv("PULSE_STORE_FSYNC"); v != "" {
		cfg.Store.Fsync = v
	}
	if v := os.Getenv("PULSE_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}

	if v := firstEnv("PULSE_DISPATCH_QUEUE"); v != "" {
		cfg.Dispatcher.Queue = v
	}
	setInt(&cfg.Dispatcher.IntervalMs, "PULSE_DISPATCH_INTERVAL_MS")
	setInt(&cfg.Dispatcher.BatchSize, "PULSE_DISPATCH_BATCH_SIZE")

	if v := firstEnv("PULSE_WORKER_CONSUMER"); v != "" {
		cfg.Worker.Consumer = v
	}
	setInt(&cfg.Worker.Capacity, "PULSE_WORKER_CAPACITY")
	setInt(&cfg.Worker.BatchSize, "PULSE_WORKER_BATCH_SIZE", "ACCOUNTS_BATCH_SIZE")
	setInt(&cfg.Worker.BlockTimeoutMs, "PULSE_WORKER_BLOCK_TIMEOUT_MS")
	setInt(&cfg.Worker.HandleTimeoutMs, "PULSE_WORKER_HANDLE_TIMEOUT_MS")
	setInt(&cfg.Worker.ShutdownTimeoutMs, "PULSE_WORKER_SHUTDOWN_TIMEOUT_MS")
	if v := firstEnv("PULSE_WORKER_AWAIT_IN_FLIGHT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.AwaitInFlight = b
		}
	}
	if v := firstEnv("PULSE_WORKER_RECLAIM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.Reclaim.Enabled = b
		}
	}
	setInt(&cfg.Worker.Reclaim.MinIdleMs, "PULSE_WORKER_RECLAIM_MIN_IDLE_MS")

	if v := firstEnv("PULSE_EVALUATOR_URL"); v != "" {
		cfg.Evaluator.URL = v
	}
	if v := firstEnv("PULSE_EVALUATOR_RULE"); v != "" {
		cfg.Evaluator.Rule = v
	}

	if v := firstEnv("PULSE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := firstEnv("PULSE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := firstEnv("PULSE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := firstEnv("PULSE_GRPC_ADDR"); v != "" {
		cfg.Metrics.GRPCAddr = v
	}

	// PULSE_QUEUE_<NAME>_MODE switches a queue's topology.
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" || !strings.HasPrefix(k, "PULSE_QUEUE_") || !strings.HasSuffix(k, "_MODE") {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(k, "PULSE_QUEUE_"), "_MODE"))
		if name == "" {
			continue
		}
		if cfg.Queues == nil {
			cfg.Queues = map[string]QueueConfig{}
		}
		q := cfg.Queues[name]
		q.Mode = v
		cfg.Queues[name] = q
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func setInt(dst *int, keys ...string) {
	if v := firstEnv(keys...); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
