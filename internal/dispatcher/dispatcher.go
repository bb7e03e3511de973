package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/registry"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/account"
	"github.com/rzbill/pulse/pkg/log"
)

// Config tunes a Dispatcher.
type Config struct {
	// Interval between cycles for Run (default 1m).
	Interval time.Duration
	// BatchSize is the number of ids published per atomic enqueue (default 1000).
	BatchSize int
	// StallRatio and StallCycles drive the backpressure warning: after
	// StallCycles consecutive non-empty cycles whose ratio is at most
	// StallRatio, a warning is logged. StallCycles 0 disables it.
	StallRatio  float64
	StallCycles int
}

// Result summarizes one cycle.
type Result struct {
	Read     int
	Appended int
	Elapsed  time.Duration
}

// Ratio is Appended/Read, 0 when nothing was read. A ratio near 1 means
// consumers keep up; near 0 means the queue is saturated.
func (r Result) Ratio() float64 {
	if r.Read == 0 {
		return 0
	}
	return float64(r.Appended) / float64(r.Read)
}

// Dispatcher publishes the registry to one queue.
type Dispatcher struct {
	registry *registry.Registry
	queue    workqueue.Queue
	cfg      Config
	logger   log.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	stalled int
}

// New returns a Dispatcher targeting q.
func New(reg *registry.Registry, q workqueue.Queue, cfg Config, logger log.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dispatcher{
		registry: reg,
		queue:    q,
		cfg:      cfg,
		logger:   logger.WithComponent("dispatcher").With(log.Str("queue", q.Name())),
		metrics:  m,
	}
}

// RunOnce executes a single cycle. On error Result holds the progress made
// before the failing chunk.
func (d *Dispatcher) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	ids, err := d.registry.GetAll(ctx)
	if err != nil {
		d.metrics.ObserveDispatch(d.queue.Name(), 0, 0, err)
		return Result{Elapsed: time.Since(start)}, fmt.Errorf("dispatch %s: %w", d.queue.Name(), err)
	}

	res := Result{Read: len(ids)}
	for _, chunk := range chunks(ids, d.cfg.BatchSize) {
		appended, err := d.queue.Publish(ctx, chunk)
		res.Appended += len(appended)
		if err != nil {
			res.Elapsed = time.Since(start)
			d.metrics.ObserveDispatch(d.queue.Name(), res.Read, res.Appended, err)
			return res, fmt.Errorf("dispatch %s: %w", d.queue.Name(), err)
		}
	}
	res.Elapsed = time.Since(start)
	d.metrics.ObserveDispatch(d.queue.Name(), res.Read, res.Appended, nil)

	d.logger.Info("dispatched accounts",
		log.Int("read", res.Read),
		log.Int("appended", res.Appended),
		log.Float64("ratio", res.Ratio()),
		log.Dur("elapsed", res.Elapsed),
	)
	d.checkStall(res)
	return res, nil
}

func (d *Dispatcher) checkStall(res Result) {
	if d.cfg.StallCycles <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if res.Read == 0 || res.Ratio() > d.cfg.StallRatio {
		d.stalled = 0
		return
	}
	d.stalled++
	if d.stalled >= d.cfg.StallCycles {
		d.logger.Warn("queue is not draining; consumers are behind or stuck",
			log.Int("cycles", d.stalled),
			log.Float64("ratio", res.Ratio()),
		)
	}
}

// Run executes RunOnce immediately and then every Interval until ctx is
// done. Cycles never overlap; a failed cycle is logged and the next runs on
// schedule.
func (d *Dispatcher) Run(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(d.cfg.Interval).Do(func() {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("dispatch cycle failed", log.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule dispatcher: %w", err)
	}

	d.logger.Info("dispatcher started", log.Dur("interval", d.cfg.Interval), log.Int("batch_size", d.cfg.BatchSize))
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	d.logger.Info("dispatcher stopped")
	return nil
}

func chunks(ids []account.ID, size int) [][]account.ID {
	var out [][]account.ID
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
