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

// ListQueue is the at-most-once topology: a FIFO list plus a pending set.
// Popping an item unmarks it, so a crash after the pop loses the item until
// the next publish of the same account.
type ListQueue struct {
	store      store.Store
	name       string
	listKey    string
	pendingKey string
	logger     log.Logger
	metrics    *metrics.Metrics
}

var _ Queue = (*ListQueue)(nil)

func newListQueue(st store.Store, keys store.Keys, name string, logger log.Logger, m *metrics.Metrics) *ListQueue {
	return &ListQueue{
		store:      st,
		name:       name,
		listKey:    keys.Queue(name),
		pendingKey: keys.Pending(name),
		logger:     logger,
		metrics:    m,
	}
}

func (q *ListQueue) Name() string { return q.name }
func (q *ListQueue) Mode() Mode   { return AtMostOnce }

func (q *ListQueue) Publish(ctx context.Context, ids []account.ID) ([]account.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	appended, err := q.store.ListEnqueue(ctx, q.listKey, q.pendingKey, account.Strings(ids))
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", q.name, err)
	}
	q.metrics.AddPublished(q.name, len(appended))
	return parseAppended(appended), nil
}

// Dequeue pops up to max items from the head. consumer and block are unused.
func (q *ListQueue) Dequeue(ctx context.Context, _ string, max int, _ time.Duration) ([]Item, error) {
	if max <= 0 {
		return nil, nil
	}
	members, err := q.store.ListPop(ctx, q.listKey, q.pendingKey, max)
	if err != nil {
		if len(members) > 0 {
			q.logger.Error("popped items lost to a pending set mismatch", log.F("members", members), log.Err(err))
		}
		return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
	}
	ids, _ := decodeMembers(q.logger, q.metrics, q.name, members)
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{Account: id}
	}
	q.metrics.AddDequeued(q.name, len(items))
	return items, nil
}

// Ack is a no-op: items leave the pending set when popped.
func (q *ListQueue) Ack(context.Context, []Item) (int, error) { return 0, nil }

func (q *ListQueue) Stats(ctx context.Context) (Stats, error) {
	backlog, err := q.store.ListLen(ctx, q.listKey)
	if err != nil {
		return Stats{}, err
	}
	outstanding, err := q.store.SetCard(ctx, q.pendingKey)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Backlog: backlog, Outstanding: outstanding}, nil
}
