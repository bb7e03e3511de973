package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/dispatcher"
	"github.com/rzbill/pulse/internal/evaluator"
	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/registry"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/internal/store/embedded"
	"github.com/rzbill/pulse/internal/store/redisstore"
	"github.com/rzbill/pulse/internal/worker"
	"github.com/rzbill/pulse/internal/workqueue"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  logpkg.Logger
	Metrics *metrics.Metrics
	// Store overrides the configured backend. The Runtime does not close it.
	Store store.Store
}

// Runtime owns the shared store handle of a process and builds every
// component on top of it.
type Runtime struct {
	store   store.Store
	owned   bool
	keys    store.Keys
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	queues map[string]workqueue.Queue
}

// Open connects to the configured store and verifies it is reachable.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	rt := &Runtime{
		store:   opts.Store,
		keys:    store.Keys{Prefix: opts.Config.KeyPrefix},
		config:  opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		queues:  make(map[string]workqueue.Queue),
	}
	if rt.store == nil {
		st, err := openStore(ctx, opts.Config.Store, opts.Logger, opts.Metrics)
		if err != nil {
			return nil, err
		}
		rt.store, rt.owned = st, true
	}
	if err := rt.CheckHealth(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	return rt, nil
}

func openStore(ctx context.Context, cfg cfgpkg.StoreConfig, logger logpkg.Logger, m *metrics.Metrics) (store.Store, error) {
	switch cfg.Backend {
	case cfgpkg.BackendRedis, "":
		redis.SetLogger(redisLogger{logger.WithComponent("redis")})
		return redisstore.Open(ctx, cfg.URL)
	case cfgpkg.BackendEmbedded:
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		dir := cfg.DataDir
		if dir == "" && !cfg.InMemory {
			dir = cfgpkg.DefaultDataDir()
		}
		if dir != "" {
			dir = filepath.Join(dir, "store")
		}
		return embedded.Open(pebblestore.Options{
			DataDir:       dir,
			InMemory:      cfg.InMemory,
			Fsync:         fsync,
			FsyncInterval: cfg.FsyncInterval(),
			Logger:        logger.WithComponent("pebble"),
			Metrics:       m.StoreHook(),
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// redisLogger routes go-redis internal messages to the process logger.
type redisLogger struct{ logger logpkg.Logger }

func (l redisLogger) Printf(_ context.Context, format string, v ...interface{}) {
	l.logger.Warnf(format, v...)
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var result *multierror.Error
	if r.owned && r.store != nil {
		if err := r.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// CheckHealth pings the store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("store not open")
	}
	return r.store.Ping(ctx)
}

// Store exposes the shared store handle.
func (r *Runtime) Store() store.Store { return r.store }

// Keys returns the key layout in use.
func (r *Runtime) Keys() store.Keys { return r.keys }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the process logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }

// Metrics returns the process metrics, possibly nil.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Registry returns the account registry.
func (r *Runtime) Registry() *registry.Registry {
	return registry.New(r.store, r.keys.Registry(), r.logger, r.metrics)
}

// Queue opens the named queue with its configured topology. Queues are
// cached per Runtime.
func (r *Runtime) Queue(ctx context.Context, name string) (workqueue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	opts, err := r.config.QueueOptions(name)
	if err != nil {
		return nil, err
	}
	q, err := workqueue.Open(ctx, r.store, r.keys, name, opts, r.logger, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", name, err)
	}
	r.queues[name] = q
	return q, nil
}

// Evaluator builds the configured evaluator. It returns nil when no
// evaluator URL is set.
func (r *Runtime) Evaluator() (evaluator.Evaluator, error) {
	ec := r.config.Evaluator
	if ec.URL == "" {
		return nil, nil
	}
	expr := ec.Rule
	if expr == "" {
		expr = ec.Filter.Expr()
	}
	var rule *evaluator.Rule
	if expr != "" {
		var err error
		if rule, err = evaluator.CompileRule(expr); err != nil {
			return nil, err
		}
	}
	h, err := evaluator.NewHTTP(evaluator.HTTPOptions{BaseURL: ec.URL, Rule: rule, Timeout: ec.Timeout()})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Dispatcher builds a dispatcher for the named queue, or the configured
// dispatcher queue when name is empty.
func (r *Runtime) Dispatcher(ctx context.Context, name string) (*dispatcher.Dispatcher, error) {
	dc := r.config.Dispatcher
	if name == "" {
		name = dc.Queue
	}
	q, err := r.Queue(ctx, name)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(r.Registry(), q, dispatcher.Config{
		Interval:    dc.Interval(),
		BatchSize:   dc.BatchSize,
		StallRatio:  dc.StallRatio,
		StallCycles: dc.StallCycles,
	}, r.logger, r.metrics), nil
}

// Worker builds a consumer runtime performing role. queue overrides the
// role's reference queue when non-empty.
func (r *Runtime) Worker(ctx context.Context, role worker.Role, queue string) (*worker.Runtime, error) {
	if queue == "" {
		queue = role.Queue()
	}
	q, err := r.Queue(ctx, queue)
	if err != nil {
		return nil, err
	}
	eval, err := r.Evaluator()
	if err != nil {
		return nil, err
	}

	logger := r.logger.WithComponent(string(role))
	var h worker.Handler
	switch role {
	case worker.RoleIntake:
		h = worker.Intake(r.Registry(), eval, logger)
	case worker.RoleRecheck:
		if eval == nil {
			return nil, fmt.Errorf("role %s requires evaluator.url", role)
		}
		remove, err := r.Queue(ctx, worker.RoleEvict.Queue())
		if err != nil {
			return nil, err
		}
		h = worker.Recheck(r.Registry(), eval, remove, logger)
	case worker.RoleEvict:
		h = worker.Evict(r.Registry(), logger)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	wc := r.config.Worker
	return worker.New(q, h, worker.Options{
		Consumer:         wc.Consumer,
		Capacity:         wc.Capacity,
		BatchSize:        wc.BatchSize,
		BlockTimeout:     wc.BlockTimeout(),
		HandleTimeout:    wc.HandleTimeout(),
		IdlePollInterval: wc.IdlePollInterval(),
		FireAndForget:    !wc.AwaitInFlight,
		ShutdownTimeout:  wc.ShutdownTimeout(),
		Reclaim:          wc.Reclaim.WorkqueueConfig(),
	}, r.logger, r.metrics)
}
