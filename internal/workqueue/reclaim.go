package workqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/pulse/pkg/log"
)

// ReclaimConfig configures a Reclaimer.
type ReclaimConfig struct {
	Interval      time.Duration // How often to scan (default: 30s)
	MinIdle       time.Duration // Idle time before an item is taken over (default: 60s)
	BatchSize     int           // Pending entries inspected per scan (default: 100)
	MaxDeliveries int64         // Dead-letter after this many deliveries; 0 disables
}

// Reclaimer periodically takes over items delivered to consumers that went
// quiet and hands them to its own consumer. The consumer running the
// reclaimer is alive by definition, so no liveness registry is needed.
type Reclaimer struct {
	queue    *AckQueue
	consumer string
	cfg      ReclaimConfig
	logger   log.Logger

	out    chan Item
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReclaimer creates a reclaimer claiming on behalf of consumer.
func NewReclaimer(q *AckQueue, consumer string, cfg ReclaimConfig, logger log.Logger) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reclaimer{
		queue:    q,
		consumer: consumer,
		cfg:      cfg,
		logger:   logger.WithComponent("reclaimer").With(log.Str("queue", q.Name()), log.Str("consumer", consumer)),
		out:      make(chan Item, cfg.BatchSize),
	}
}

// C delivers reclaimed items. It is closed after Stop.
func (r *Reclaimer) C() <-chan Item { return r.out }

// Start begins periodic scans.
func (r *Reclaimer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts scanning and waits for the loop to exit.
func (r *Reclaimer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reclaimer) run(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.out)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reclaimer started",
		log.Dur("interval", r.cfg.Interval),
		log.Dur("min_idle", r.cfg.MinIdle),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reclaimer stopped")
			return
		case <-ticker.C:
			items, err := r.ReclaimOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("reclaim scan failed", log.Err(err))
				}
				continue
			}
			for _, it := range items {
				select {
				case r.out <- it:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// ReclaimOnce scans pending entries once. Entries idle for at least MinIdle
// are claimed; those that already reached MaxDeliveries are dead-lettered,
// the rest are returned for processing.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) ([]Item, error) {
	pending, err := r.queue.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var (
		ids      []string
		exceeded = make(map[string]int64)
	)
	for _, p := range pending {
		if p.Idle < r.cfg.MinIdle {
			continue
		}
		ids = append(ids, p.ID)
		if r.cfg.MaxDeliveries > 0 && p.Deliveries >= r.cfg.MaxDeliveries {
			exceeded[p.ID] = p.Deliveries
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := r.queue.Claim(ctx, r.consumer, r.cfg.MinIdle, ids)
	if err != nil {
		return nil, err
	}

	var keep, dead []Item
	for _, it := range claimed {
		if n, ok := exceeded[it.EntryID]; ok {
			r.logger.Warn("dead-lettering item after repeated deliveries",
				log.Str("account", it.Account.String()),
				log.Str("entry_id", it.EntryID),
				log.Int64("deliveries", n),
			)
			dead = append(dead, it)
			continue
		}
		keep = append(keep, it)
	}
	if _, err := r.queue.DeadLetter(ctx, dead); err != nil {
		return keep, err
	}
	r.queue.metrics.AddReclaimed(r.queue.Name(), len(keep))
	if len(claimed) > 0 {
		r.logger.Debug("reclaimed idle items", log.Int("claimed", len(keep)), log.Int("dead_lettered", len(dead)))
	}
	return keep, nil
}
