package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rzbill/pulse/internal/evaluator"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/workqueue"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendEmbedded = "embedded"
)

// MaxBlockTimeout caps every blocking read window.
const MaxBlockTimeout = 60 * time.Second

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// KeyPrefix namespaces every key pulse writes to the store.
	KeyPrefix  string                 `json:"keyPrefix" yaml:"keyPrefix" toml:"keyPrefix"`
	Store      StoreConfig            `json:"store" yaml:"store" toml:"store"`
	Queues     map[string]QueueConfig `json:"queues" yaml:"queues" toml:"queues"`
	Dispatcher DispatcherConfig       `json:"dispatcher" yaml:"dispatcher" toml:"dispatcher"`
	Worker     WorkerConfig           `json:"worker" yaml:"worker" toml:"worker"`
	Evaluator  EvaluatorConfig        `json:"evaluator" yaml:"evaluator" toml:"evaluator"`
	Log        logpkg.Config          `json:"log" yaml:"log" toml:"log"`
	Metrics    MetricsConfig          `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// StoreConfig selects and tunes the shared store.
type StoreConfig struct {
	// Backend is "redis" or "embedded".
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	// URL is a redis:// or rediss:// URL for the redis backend.
	URL string `json:"url" yaml:"url" toml:"url"`
	// DataDir holds the embedded database. Defaults to DefaultDataDir().
	DataDir  string `json:"dataDir" yaml:"dataDir" toml:"dataDir"`
	InMemory bool   `json:"inMemory" yaml:"inMemory" toml:"inMemory"`
	// Fsync is "always", "interval" or "never" for the embedded backend.
	Fsync           string `json:"fsync" yaml:"fsync" toml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs" toml:"fsyncIntervalMs"`
}

// QueueConfig is the topology of one named queue.
type QueueConfig struct {
	// Mode is "at-most-once" (list) or "at-least-once" (ack).
	Mode  string `json:"mode" yaml:"mode" toml:"mode"`
	Group string `json:"group" yaml:"group" toml:"group"`
}

// DispatcherConfig tunes the registry fan-out.
type DispatcherConfig struct {
	// Queue is the target queue name.
	Queue       string  `json:"queue" yaml:"queue" toml:"queue"`
	IntervalMs  int     `json:"intervalMs" yaml:"intervalMs" toml:"intervalMs"`
	BatchSize   int     `json:"batchSize" yaml:"batchSize" toml:"batchSize"`
	StallRatio  float64 `json:"stallRatio" yaml:"stallRatio" toml:"stallRatio"`
	StallCycles int     `json:"stallCycles" yaml:"stallCycles" toml:"stallCycles"`
}

// WorkerConfig tunes the consumer runtime.
type WorkerConfig struct {
	Consumer           string        `json:"consumer" yaml:"consumer" toml:"consumer"`
	Capacity           int           `json:"capacity" yaml:"capacity" toml:"capacity"`
	BatchSize          int           `json:"batchSize" yaml:"batchSize" toml:"batchSize"`
	BlockTimeoutMs     int           `json:"blockTimeoutMs" yaml:"blockTimeoutMs" toml:"blockTimeoutMs"`
	HandleTimeoutMs    int           `json:"handleTimeoutMs" yaml:"handleTimeoutMs" toml:"handleTimeoutMs"`
	IdlePollIntervalMs int           `json:"idlePollIntervalMs" yaml:"idlePollIntervalMs" toml:"idlePollIntervalMs"`
	AwaitInFlight      bool          `json:"awaitInFlight" yaml:"awaitInFlight" toml:"awaitInFlight"`
	ShutdownTimeoutMs  int           `json:"shutdownTimeoutMs" yaml:"shutdownTimeoutMs" toml:"shutdownTimeoutMs"`
	Reclaim            ReclaimConfig `json:"reclaim" yaml:"reclaim" toml:"reclaim"`
}

// ReclaimConfig tunes idle-item reclaim on at-least-once queues.
type ReclaimConfig struct {
	Enabled       bool  `json:"enabled" yaml:"enabled" toml:"enabled"`
	IntervalMs    int   `json:"intervalMs" yaml:"intervalMs" toml:"intervalMs"`
	MinIdleMs     int   `json:"minIdleMs" yaml:"minIdleMs" toml:"minIdleMs"`
	BatchSize     int   `json:"batchSize" yaml:"batchSize" toml:"batchSize"`
	MaxDeliveries int64 `json:"maxDeliveries" yaml:"maxDeliveries" toml:"maxDeliveries"`
}

// EvaluatorConfig points at the account document service.
type EvaluatorConfig struct {
	URL string `json:"url" yaml:"url" toml:"url"`
	// Rule is a CEL expression over account, id and now_ms. Takes precedence
	// over Filter.
	Rule      string           `json:"rule" yaml:"rule" toml:"rule"`
	Filter    evaluator.Filter `json:"filter" yaml:"filter" toml:"filter"`
	TimeoutMs int              `json:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
}

// MetricsConfig controls the ops listeners. Empty addresses disable them.
type MetricsConfig struct {
	// Addr serves /metrics, /healthz and read-only stats over HTTP.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// GRPCAddr serves grpc.health.v1.
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr" toml:"grpcAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		KeyPrefix: "pulse:",
		Store: StoreConfig{
			Backend: BackendRedis,
			URL:     "redis://127.0.0.1:6379/0",
		},
		Queues: map[string]QueueConfig{
			"add":    {Mode: string(workqueue.AtLeastOnce)},
			"check":  {Mode: string(workqueue.AtMostOnce)},
			"remove": {Mode: string(workqueue.AtLeastOnce)},
		},
		Dispatcher: DispatcherConfig{
			Queue:       "check",
			IntervalMs:  60_000,
			BatchSize:   1000,
			StallRatio:  0.05,
			StallCycles: 3,
		},
		Worker: WorkerConfig{
			Capacity:           16,
			BatchSize:          1000,
			BlockTimeoutMs:     2000,
			HandleTimeoutMs:    30_000,
			IdlePollIntervalMs: 500,
			AwaitInFlight:      true,
			ShutdownTimeoutMs:  30_000,
			Reclaim: ReclaimConfig{
				Enabled:       true,
				IntervalMs:    30_000,
				MinIdleMs:     60_000,
				BatchSize:     100,
				MaxDeliveries: 10,
			},
		},
		Evaluator: EvaluatorConfig{TimeoutMs: 5000},
		Log:       logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON, YAML or TOML file chosen by
// extension, on top of Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables already set. Missing files are skipped; with no
// paths, ".env" in the working directory is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Queue returns the topology for name. Unconfigured queues are at-least-once.
func (c Config) Queue(name string) QueueConfig {
	if q, ok := c.Queues[name]; ok {
		return q
	}
	return QueueConfig{Mode: string(workqueue.AtLeastOnce)}
}

// QueueOptions resolves name into workqueue options.
func (c Config) QueueOptions(name string) (workqueue.Options, error) {
	q := c.Queue(name)
	mode, err := workqueue.ParseMode(q.Mode)
	if err != nil {
		return workqueue.Options{}, fmt.Errorf("queue %s: %w", name, err)
	}
	return workqueue.Options{Mode: mode, Group: q.Group}, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var result *multierror.Error
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.URL == "" {
			result = multierror.Append(result, errors.New("store.url is required for the redis backend"))
		}
	case BackendEmbedded:
		if _, err := pebblestore.ParseFsyncMode(c.Store.Fsync); err != nil {
			result = multierror.Append(result, err)
		}
	default:
		result = multierror.Append(result, fmt.Errorf("store.backend must be %q or %q, got %q", BackendRedis, BackendEmbedded, c.Store.Backend))
	}
	for name := range c.Queues {
		if _, err := c.QueueOptions(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.Dispatcher.Queue == "" {
		result = multierror.Append(result, errors.New("dispatcher.queue is required"))
	}
	if c.Dispatcher.IntervalMs <= 0 {
		result = multierror.Append(result, errors.New("dispatcher.intervalMs must be positive"))
	}
	if c.Worker.Capacity < 1 {
		result = multierror.Append(result, errors.New("worker.capacity must be at least 1"))
	}
	if bt := ms(c.Worker.BlockTimeoutMs); bt < 0 || bt > MaxBlockTimeout {
		result = multierror.Append(result, fmt.Errorf("worker.blockTimeoutMs must be within [0, %d]", MaxBlockTimeout.Milliseconds()))
	}
	if c.Worker.HandleTimeoutMs < 0 || c.Worker.ShutdownTimeoutMs < 0 || c.Worker.IdlePollIntervalMs < 0 {
		result = multierror.Append(result, errors.New("worker timeouts must not be negative"))
	}
	if r := c.Worker.Reclaim; r.Enabled && (r.MinIdleMs <= 0 || r.IntervalMs <= 0) {
		result = multierror.Append(result, errors.New("worker.reclaim intervalMs and minIdleMs must be positive"))
	}
	if _, err := logpkg.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := logpkg.ParseFormat(c.Log.Format); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (d DispatcherConfig) Interval() time.Duration { return ms(d.IntervalMs) }
func (w WorkerConfig) BlockTimeout() time.Duration { return ms(w.BlockTimeoutMs) }
func (w WorkerConfig) HandleTimeout() time.Duration { return ms(w.HandleTimeoutMs) }
func (w WorkerConfig) IdlePollInterval() time.Duration { return ms(w.IdlePollIntervalMs) }
func (w WorkerConfig) ShutdownTimeout() time.Duration { return ms(w.ShutdownTimeoutMs) }
func (e EvaluatorConfig) Timeout() time.Duration { return ms(e.TimeoutMs) }
func (s StoreConfig) FsyncInterval() time.Duration { return ms(s.FsyncIntervalMs) }

// WorkqueueConfig converts the reclaim settings. It returns nil when reclaim
// is disabled.
func (r ReclaimConfig) WorkqueueConfig() *workqueue.ReclaimConfig {
	if !r.Enabled {
		return nil
	}
	return &workqueue.ReclaimConfig{
		Interval:      ms(r.IntervalMs),
		MinIdle:       ms(r.MinIdleMs),
		BatchSize:     r.BatchSize,
		MaxDeliveries: r.MaxDeliveries,
	}
}
