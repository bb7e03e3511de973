package eventlog

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

// ErrNoGroup is returned when reading through a group that was never created.
var ErrNoGroup = errors.New("eventlog: no such consumer group")

// Delivery is an entry handed to a consumer.
type Delivery struct {
	ID      id.ID
	Payload []byte
}

// Pending describes a delivered entry not yet acknowledged.
type Pending struct {
	ID         id.ID
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// CreateGroup registers group with a cursor before the first entry. It
// reports false when the group already exists.
func (l *Log) CreateGroup(b *pebble.Batch, group string) (bool, error) {
	ok, err := l.db.Has(KeyCursor(l.name, group))
	if err != nil || ok {
		return false, err
	}
	return true, b.Set(KeyCursor(l.name, group), id.Zero.Bytes(), nil)
}

func (l *Log) cursor(group string) (id.ID, error) {
	v, err := l.db.Get(KeyCursor(l.name, group))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return id.Zero, ErrNoGroup
	}
	if err != nil {
		return id.Zero, err
	}
	return id.FromBytes(v)
}

// ReadGroup claims up to n entries after the group cursor for consumer,
// recording each as pending and advancing the cursor in b.
func (l *Log) ReadGroup(b *pebble.Batch, group, consumer string, n int) ([]Delivery, error) {
	cur, err := l.cursor(group)
	if err != nil {
		return nil, err
	}
	items, err := l.Read(cur, n)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	now := nowMs()
	out := make([]Delivery, 0, len(items))
	for _, it := range items {
		rec := pendingRecord{Consumer: consumer, DeliveredMs: now, Deliveries: 1}
		if err := b.Set(KeyPending(l.name, group, it.ID), encodePending(rec), nil); err != nil {
			return nil, err
		}
		out = append(out, Delivery{ID: it.ID, Payload: it.Payload})
	}
	last := items[len(items)-1].ID
	if err := b.Set(KeyCursor(l.name, group), last[:], nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Ack removes each id from the group's pending entries and deletes the
// entry itself, in b. It returns the ids whose ack took effect; unknown,
// repeated or already acknowledged ids are skipped.
func (l *Log) Ack(b *pebble.Batch, group string, ids []id.ID) ([]id.ID, error) {
	seen := make(map[id.ID]struct{}, len(ids))
	var acked []id.ID
	for _, eid := range ids {
		if _, dup := seen[eid]; dup {
			continue
		}
		seen[eid] = struct{}{}
		ok, err := l.db.Has(KeyPending(l.name, group, eid))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := b.Delete(KeyPending(l.name, group, eid), nil); err != nil {
			return nil, err
		}
		if err := l.Delete(b, eid); err != nil {
			return nil, err
		}
		acked = append(acked, eid)
	}
	return acked, nil
}

// PendingEntries lists up to n pending entries of group, oldest id first.
func (l *Log) PendingEntries(group string, n int) ([]Pending, error) {
	now := nowMs()
	var (
		out     []Pending
		scanErr error
	)
	err := l.db.ScanPrefix(KeyPendingPrefix(l.name, group), func(k, v []byte) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		eid, err := idFromKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		rec, ok := decodePending(v)
		if !ok {
			scanErr = ErrCorrupt
			return false
		}
		out = append(out, Pending{
			ID:         eid,
			Consumer:   rec.Consumer,
			Idle:       idle(now, rec.DeliveredMs),
			Deliveries: rec.Deliveries,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// Claim transfers each listed pending entry idle for at least minIdle to
// consumer and increments its delivery count, in b. Pending records whose
// entry has vanished are dropped.
func (l *Log) Claim(b *pebble.Batch, group, consumer string, minIdle time.Duration, ids []id.ID) ([]Delivery, error) {
	now := nowMs()
	var out []Delivery
	seen := make(map[id.ID]struct{}, len(ids))
	for _, eid := range ids {
		if _, dup := seen[eid]; dup {
			continue
		}
		seen[eid] = struct{}{}
		key := KeyPending(l.name, group, eid)
		v, err := l.db.Get(key)
		if errors.Is(err, pebblestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, ok := decodePending(v)
		if !ok {
			return nil, ErrCorrupt
		}
		if idle(now, rec.DeliveredMs) < minIdle {
			continue
		}
		payload, exists, err := l.Get(eid)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := b.Delete(key, nil); err != nil {
				return nil, err
			}
			continue
		}
		rec.Consumer = consumer
		rec.DeliveredMs = now
		rec.Deliveries++
		if err := b.Set(key, encodePending(rec), nil); err != nil {
			return nil, err
		}
		out = append(out, Delivery{ID: eid, Payload: payload})
	}
	return out, nil
}

func idle(now, delivered int64) time.Duration {
	if now <= delivered {
		return 0
	}
	return time.Duration(now-delivered) * time.Millisecond
}
