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

// AckQueue is the at-least-once topology: an append-only log read through
// one consumer group. Items stay pending, and their accounts stay
// unpublishable, until acknowledged.
type AckQueue struct {
	store      store.Store
	name       string
	group      string
	logKey     string
	pendingKey string
	deadKey    string
	logger     log.Logger
	metrics    *metrics.Metrics
}

var _ Queue = (*AckQueue)(nil)

func openAckQueue(ctx context.Context, st store.Store, keys store.Keys, name, group string, logger log.Logger, m *metrics.Metrics) (*AckQueue, error) {
	if group == "" {
		group = DefaultGroup
	}
	q := &AckQueue{
		store:      st,
		name:       name,
		group:      group,
		logKey:     keys.Queue(name),
		pendingKey: keys.Pending(name),
		deadKey:    keys.Dead(name),
		logger:     logger.With(log.Str("group", group)),
		metrics:    m,
	}
	if err := st.LogCreateGroup(ctx, q.logKey, group); err != nil {
		return nil, fmt.Errorf("open %s: create group: %w", name, err)
	}
	return q, nil
}

func (q *AckQueue) Name() string  { return q.name }
func (q *AckQueue) Mode() Mode    { return AtLeastOnce }
func (q *AckQueue) Group() string { return q.group }

func (q *AckQueue) Publish(ctx context.Context, ids []account.ID) ([]account.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entries, err := q.store.LogEnqueue(ctx, q.logKey, q.pendingKey, account.Strings(ids))
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", q.name, err)
	}
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.Member
	}
	q.metrics.AddPublished(q.name, len(entries))
	return parseAppended(members), nil
}

// Dequeue claims up to max undelivered items for consumer.
func (q *AckQueue) Dequeue(ctx context.Context, consumer string, max int, block time.Duration) ([]Item, error) {
	if max <= 0 {
		return nil, nil
	}
	entries, err := q.store.LogReadGroup(ctx, q.logKey, q.group, consumer, max, block)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
	}
	items, err := q.toItems(ctx, entries)
	if err != nil {
		return nil, err
	}
	q.metrics.AddDequeued(q.name, len(items))
	return items, nil
}

// toItems decodes entries. Undecodable entries are acknowledged so they are
// never delivered again.
func (q *AckQueue) toItems(ctx context.Context, entries []store.Entry) ([]Item, error) {
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.Member
	}
	ids, bad := decodeMembers(q.logger, q.metrics, q.name, members)
	if len(bad) > 0 {
		drop := make([]store.Entry, len(bad))
		for i, idx := range bad {
			drop[i] = entries[idx]
		}
		if _, err := q.store.LogAck(ctx, q.logKey, q.pendingKey, q.group, drop); err != nil {
			return nil, fmt.Errorf("drop undecodable from %s: %w", q.name, err)
		}
	}
	items := make([]Item, 0, len(ids))
	next := 0
	for i, e := range entries {
		if next < len(bad) && bad[next] == i {
			next++
			continue
		}
		items = append(items, Item{Account: ids[len(items)], EntryID: e.ID})
	}
	return items, nil
}

func toEntries(items []Item) []store.Entry {
	entries := make([]store.Entry, 0, len(items))
	for _, it := range items {
		if it.EntryID == "" {
			continue
		}
		entries = append(entries, store.Entry{ID: it.EntryID, Member: it.Account.String()})
	}
	return entries
}

// Ack removes items from the group's pending entries and their accounts
// from the pending set. Unknown or already acked items are ignored.
func (q *AckQueue) Ack(ctx context.Context, items []Item) (int, error) {
	entries := toEntries(items)
	if len(entries) == 0 {
		return 0, nil
	}
	n, err := q.store.LogAck(ctx, q.logKey, q.pendingKey, q.group, entries)
	q.metrics.AddAcked(q.name, n)
	if err != nil {
		return n, fmt.Errorf("ack %s: %w", q.name, err)
	}
	return n, nil
}

// Pending lists up to n delivered, unacknowledged items.
func (q *AckQueue) Pending(ctx context.Context, n int) ([]store.PendingEntry, error) {
	return q.store.LogPending(ctx, q.logKey, q.group, n)
}

// Claim transfers the listed pending items idle for at least minIdle to consumer.
func (q *AckQueue) Claim(ctx context.Context, consumer string, minIdle time.Duration, entryIDs []string) ([]Item, error) {
	entries, err := q.store.LogClaim(ctx, q.logKey, q.group, consumer, minIdle, entryIDs)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.name, err)
	}
	return q.toItems(ctx, entries)
}

// DeadLetter records items in the dead-letter set and acknowledges them.
func (q *AckQueue) DeadLetter(ctx context.Context, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ids := make([]account.ID, len(items))
	for i, it := range items {
		ids[i] = it.Account
	}
	if _, err := q.store.SetAdd(ctx, q.deadKey, account.Strings(ids)...); err != nil {
		return 0, fmt.Errorf("dead-letter %s: %w", q.name, err)
	}
	n, err := q.Ack(ctx, items)
	q.metrics.AddDeadLettered(q.name, n)
	return n, err
}

// DeadLettered returns the accounts in the dead-letter set.
func (q *AckQueue) DeadLettered(ctx context.Context) ([]account.ID, error) {
	members, err := q.store.SetMembers(ctx, q.deadKey)
	if err != nil {
		return nil, err
	}
	ids, _ := decodeMembers(q.logger, q.metrics, q.name, members)
	return ids, nil
}

func (q *AckQueue) Stats(ctx context.Context) (Stats, error) {
	backlog, err := q.store.LogLen(ctx, q.logKey)
	if err != nil {
		return Stats{}, err
	}
	outstanding, err := q.store.SetCard(ctx, q.pendingKey)
	if err != nil {
		return Stats{}, err
	}
	pend, err := q.store.LogPending(ctx, q.logKey, q.group, int(backlog)+1)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Backlog: backlog, Outstanding: outstanding, Unacked: int64(len(pend))}, nil
}
