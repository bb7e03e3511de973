package workqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/pkg/account"
	"github.com/rzbill/pulse/pkg/log"
)

// Mode selects a queue's delivery guarantee.
type Mode string

const (
	// AtMostOnce pops items off a list; a consumer crash loses them until the
	// dispatcher republishes.
	AtMostOnce Mode = "at-most-once"
	// AtLeastOnce reads through a consumer group; items stay pending until acked.
	AtLeastOnce Mode = "at-least-once"
)

// ParseMode accepts the mode names and the "list"/"ack" shorthands.
func ParseMode(s string) (Mode, error) {
	switch s {
	case string(AtMostOnce), "list":
		return AtMostOnce, nil
	case string(AtLeastOnce), "ack", "":
		return AtLeastOnce, nil
	default:
		return "", fmt.Errorf("workqueue: unknown mode %q", s)
	}
}

// Item is one dequeued account. EntryID is set only in AtLeastOnce mode.
type Item struct {
	Account account.ID
	EntryID string
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	// Backlog is the number of records in the backing list or log.
	Backlog int64
	// Outstanding is the size of the pending set.
	Outstanding int64
	// Unacked counts delivered, unacknowledged items (AtLeastOnce only).
	Unacked int64
}

// Queue is the capability every consumer and producer programs against.
type Queue interface {
	Name() string
	Mode() Mode
	// Publish queues each id not already outstanding and returns those appended.
	Publish(ctx context.Context, ids []account.ID) ([]account.ID, error)
	// Dequeue returns up to max items. AtLeastOnce waits up to block for data;
	// AtMostOnce never waits.
	Dequeue(ctx context.Context, consumer string, max int, block time.Duration) ([]Item, error)
	// Ack acknowledges items and returns how many took effect. It is a no-op
	// in AtMostOnce mode.
	Ack(ctx context.Context, items []Item) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Options configures Open.
type Options struct {
	Mode Mode
	// Group is the consumer group of an AtLeastOnce queue. Defaults to "workers".
	Group string
}

// DefaultGroup is the consumer group used when Options.Group is empty.
const DefaultGroup = "workers"

// Open returns the queue named name in the topology opts selects.
func Open(ctx context.Context, st store.Store, keys store.Keys, name string, opts Options, logger log.Logger, m *metrics.Metrics) (Queue, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithComponent("workqueue").With(log.Str("queue", name))
	switch opts.Mode {
	case AtMostOnce:
		return newListQueue(st, keys, name, logger, m), nil
	case AtLeastOnce, "":
		return openAckQueue(ctx, st, keys, name, opts.Group, logger, m)
	default:
		return nil, fmt.Errorf("workqueue: unknown mode %q", opts.Mode)
	}
}

// decodeMembers parses stored members, logging and counting the ones that
// are not account ids. bad holds the indexes of rejected members.
func decodeMembers(logger log.Logger, m *metrics.Metrics, queue string, members []string) (ids []account.ID, bad []int) {
	ids = make([]account.ID, 0, len(members))
	for i, raw := range members {
		id, err := account.Parse(raw)
		if err != nil {
			logger.Warn("dropping undecodable queue item", log.Str("member", raw), log.Err(err))
			bad = append(bad, i)
			continue
		}
		ids = append(ids, id)
	}
	m.AddDecodeDropped(queue, len(bad))
	return ids, bad
}

// parseAppended maps appended members back to ids. The members were
// rendered from ids by the caller, so parsing cannot fail.
func parseAppended(members []string) []account.ID {
	out := make([]account.ID, 0, len(members))
	for _, s := range members {
		if id, err := account.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
