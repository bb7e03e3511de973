package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/log"
)

// ErrShutdownTimeout is returned by Run when in-flight handlers did not finish
// within Options.ShutdownTimeout.
var ErrShutdownTimeout = errors.New("worker: shutdown timed out with handlers in flight")

// Handler processes one dequeued item. Returning an error leaves the item
// unacknowledged.
type Handler interface {
	Handle(ctx context.Context, item workqueue.Item) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item workqueue.Item) error

func (f HandlerFunc) Handle(ctx context.Context, item workqueue.Item) error { return f(ctx, item) }

// Options configures a Runtime. Zero values select the defaults noted.
type Options struct {
	// Consumer names this runtime inside the queue's consumer group.
	// Defaults to DefaultConsumer().
	Consumer string
	// Capacity is the number of permits, the upper bound on concurrent
	// handler invocations (default 16).
	Capacity int
	// BatchSize is the number of items requested per dequeue (default Capacity).
	BatchSize int
	// BlockTimeout is how long a dequeue may wait for data. Zero never waits.
	// The Redis backend does not abort a blocking read when the context is
	// cancelled, so shutdown can lag by up to BlockTimeout there.
	BlockTimeout time.Duration
	// HandleTimeout bounds a single handler invocation. Zero means no bound.
	HandleTimeout time.Duration
	// IdlePollInterval paces the loop after empty polls and store errors
	// (default 500ms).
	IdlePollInterval time.Duration
	// FireAndForget makes Run return on cancellation without waiting for
	// in-flight handlers.
	FireAndForget bool
	// ShutdownTimeout bounds the wait for in-flight handlers (default 30s).
	ShutdownTimeout time.Duration
	// Reclaim enables idle-item reclaim on at-least-once queues when non-nil.
	Reclaim *workqueue.ReclaimConfig
}

func (o *Options) applyDefaults() {
	if o.Consumer == "" {
		o.Consumer = DefaultConsumer()
	}
	if o.Capacity <= 0 {
		o.Capacity = 16
	}
	if o.BatchSize <= 0 {
		o.BatchSize = o.Capacity
	}
	if o.IdlePollInterval <= 0 {
		o.IdlePollInterval = 500 * time.Millisecond
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
}

// DefaultConsumer returns "<hostname>-<8 hex chars>", unique per process.
func DefaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pulse"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Runtime consumes one queue with a bounded pool of handler goroutines.
type Runtime struct {
	queue   workqueue.Queue
	handler Handler
	opts    Options
	logger  log.Logger
	metrics *metrics.Metrics

	permits *semaphore.Weighted
	idle    *rate.Limiter
	wg      sync.WaitGroup
}

// New returns a Runtime for q.
func New(q workqueue.Queue, h Handler, opts Options, logger log.Logger, m *metrics.Metrics) (*Runtime, error) {
	if q == nil {
		return nil, errors.New("worker: queue is required")
	}
	if h == nil {
		return nil, errors.New("worker: handler is required")
	}
	if opts.BlockTimeout < 0 {
		return nil, fmt.Errorf("worker: negative block timeout %s", opts.BlockTimeout)
	}
	opts.applyDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Runtime{
		queue:   q,
		handler: h,
		opts:    opts,
		logger:  logger.WithComponent("worker").With(log.Str("queue", q.Name()), log.Str("consumer", opts.Consumer)),
		metrics: m,
		permits: semaphore.NewWeighted(int64(opts.Capacity)),
		idle:    rate.NewLimiter(rate.Every(opts.IdlePollInterval), 1),
	}, nil
}

// Consumer returns the consumer name in use.
func (r *Runtime) Consumer() string { return r.opts.Consumer }

// Run consumes until ctx is done. Unless FireAndForget is set it then waits
// for in-flight handlers, returning ErrShutdownTimeout if they outlast
// ShutdownTimeout.
func (r *Runtime) Run(ctx context.Context) error {
	var reclaimed <-chan workqueue.Item
	if aq, ok := r.queue.(*workqueue.AckQueue); ok && r.opts.Reclaim != nil {
		rc := workqueue.NewReclaimer(aq, r.opts.Consumer, *r.opts.Reclaim, r.logger)
		rc.Start(ctx)
		defer rc.Stop()
		reclaimed = rc.C()
	}

	r.logger.Info("worker started",
		log.Str("mode", string(r.queue.Mode())),
		log.Int("capacity", r.opts.Capacity),
		log.Int("batch_size", r.opts.BatchSize),
		log.Dur("block_timeout", r.opts.BlockTimeout),
	)

	for ctx.Err() == nil {
		var items []workqueue.Item
		for drained := false; !drained; {
			select {
			case it, ok := <-reclaimed:
				if !ok {
					reclaimed = nil
					drained = true
					continue
				}
				items = append(items, it)
			default:
				drained = true
			}
		}

		batch, err := r.queue.Dequeue(ctx, r.opts.Consumer, r.opts.BatchSize, r.opts.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Error("dequeue failed", log.Err(err))
		}
		items = append(items, batch...)

		if len(items) == 0 {
			_ = r.idle.Wait(ctx)
			continue
		}
		if n := r.dispatch(ctx, items); n < len(items) {
			r.logger.Debug("stopping with undispatched items", log.Int("count", len(items)-n))
		}
	}
	return r.shutdown()
}

// dispatch starts a handler per item, blocking for permits. It returns how
// many items were started.
func (r *Runtime) dispatch(ctx context.Context, items []workqueue.Item) int {
	for i, it := range items {
		if err := r.permits.Acquire(ctx, 1); err != nil {
			return i
		}
		r.wg.Add(1)
		r.metrics.InFlight(r.queue.Name(), 1)
		go r.handle(context.WithoutCancel(ctx), it)
	}
	return len(items)
}

// ackTimeout bounds the acknowledgement that follows a successful handler.
const ackTimeout = 10 * time.Second

func (r *Runtime) handle(ctx context.Context, it workqueue.Item) {
	defer r.wg.Done()
	defer r.permits.Release(1)
	defer r.metrics.InFlight(r.queue.Name(), -1)

	hctx := ctx
	if r.opts.HandleTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, r.opts.HandleTimeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err := r.invoke(hctx, it)
	r.metrics.ObserveHandle(r.queue.Name(), outcome, time.Since(start))
	if err != nil {
		r.logger.Warn("handler failed",
			log.Str("account", it.Account.String()),
			log.Str("outcome", outcome),
			log.Err(err),
		)
		return
	}
	if r.queue.Mode() != workqueue.AtLeastOnce {
		return
	}
	// The handler deadline does not apply to the ack of finished work.
	actx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if _, err := r.queue.Ack(actx, []workqueue.Item{it}); err != nil {
		r.logger.Error("ack failed", log.Str("account", it.Account.String()), log.Err(err))
	}
}

func (r *Runtime) invoke(ctx context.Context, it workqueue.Item) (outcome string, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome, err = metrics.OutcomePanic, fmt.Errorf("handler panic: %v", p)
		}
	}()
	if err := r.handler.Handle(ctx, it); err != nil {
		return metrics.OutcomeError, err
	}
	return metrics.OutcomeOK, nil
}

func (r *Runtime) shutdown() error {
	if r.opts.FireAndForget {
		r.logger.Info("worker stopped without waiting for in-flight handlers")
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(r.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		r.logger.Info("worker stopped")
		return nil
	case <-timer.C:
		r.logger.Warn("worker stopped with handlers still running", log.Dur("waited", r.opts.ShutdownTimeout))
		return ErrShutdownTimeout
	}
}
