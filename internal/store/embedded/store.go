package embedded

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/pulse/internal/eventlog"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/pkg/id"
)

// Store implements store.Store on a local Pebble database. Every operation
// runs under one lock and commits one batch, which gives multi-key
// operations the same all-or-nothing behavior a Redis script has.
type Store struct {
	db    *pebblestore.DB
	owned bool

	mu     sync.Mutex
	closed bool
	logs   map[string]*eventlog.Log
}

var _ store.Store = (*Store)(nil)

// New wraps an open database. Close leaves the database open.
func New(db *pebblestore.DB) *Store {
	return &Store{db: db, logs: make(map[string]*eventlog.Log)}
}

// Open opens a database with opts and owns it.
func Open(opts pebblestore.Options) (*Store, error) {
	db, err := pebblestore.Open(opts)
	if err != nil {
		return nil, err
	}
	s := New(db)
	s.owned = true
	return s, nil
}

// DB exposes the underlying database.
func (s *Store) DB() *pebblestore.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.view("Ping", func() error {
		_, err := s.db.Has(listMetaKey(""))
		return err
	})
}

// Close marks the store closed and closes the database if the store owns
// it. Operations after Close fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logs = nil
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// view runs a read-only fn under the store lock.
func (s *Store) view(op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Transport(op, store.ErrClosed)
	}
	return store.Transport(op, fn())
}

// run executes fn under the store lock and commits the batch it filled.
func (s *Store) run(ctx context.Context, op string, fn func(b *pebble.Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Transport(op, store.ErrClosed)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return store.Transport(op, err)
	}
	if b.Empty() {
		return nil
	}
	return store.Transport(op, s.db.CommitBatch(ctx, b))
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) (int, error) {
	added := 0
	err := s.run(ctx, "SetAdd", func(b *pebble.Batch) error {
		seen := make(map[string]struct{}, len(members))
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			k := setMemberKey(key, m)
			ok, err := s.db.Has(k)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := b.Set(k, nil, nil); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) (int, error) {
	removed := 0
	err := s.run(ctx, "SetRemove", func(b *pebble.Batch) error {
		seen := make(map[string]struct{}, len(members))
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			k := setMemberKey(key, m)
			ok, err := s.db.Has(k)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := b.Delete(k, nil); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	prefix := setPrefix(key)
	var out []string
	err := s.view("SetMembers", func() error {
		return s.db.ScanPrefix(prefix, func(k, _ []byte) bool {
			out = append(out, string(k[len(prefix):]))
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.view("SetCard", func() error {
		return s.db.ScanPrefix(setPrefix(key), func(_, _ []byte) bool {
			n++
			return true
		})
	})
	return n, err
}

// markPending reports which members are not yet in pendingKey and stages
// their marks in b.
func (s *Store) markPending(b *pebble.Batch, pendingKey string, members []string) ([]string, error) {
	seen := make(map[string]struct{}, len(members))
	var fresh []string
	for _, m := range members {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		k := setMemberKey(pendingKey, m)
		ok, err := s.db.Has(k)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		if err := b.Set(k, nil, nil); err != nil {
			return nil, err
		}
		fresh = append(fresh, m)
	}
	return fresh, nil
}

// unmarkPending stages removal of members from pendingKey and returns those
// that were not marked.
func (s *Store) unmarkPending(b *pebble.Batch, pendingKey string, members []string) ([]string, error) {
	var missing []string
	for _, m := range members {
		k := setMemberKey(pendingKey, m)
		ok, err := s.db.Has(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, m)
			continue
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (s *Store) ListEnqueue(ctx context.Context, listKey, pendingKey string, members []string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}
	var appended []string
	err := s.run(ctx, "ListEnqueue", func(b *pebble.Batch) error {
		fresh, err := s.markPending(b, pendingKey, members)
		if err != nil || len(fresh) == 0 {
			return err
		}
		tail, err := s.listTail(listKey)
		if err != nil {
			return err
		}
		for _, m := range fresh {
			tail++
			if err := b.Set(listItemKey(listKey, tail), []byte(m), nil); err != nil {
				return err
			}
		}
		var meta [8]byte
		binary.BigEndian.PutUint64(meta[:], tail)
		if err := b.Set(listMetaKey(listKey), meta[:], nil); err != nil {
			return err
		}
		appended = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (s *Store) listTail(listKey string) (uint64, error) {
	v, err := s.db.Get(listMetaKey(listKey))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, eventlog.ErrCorrupt
	}
	return binary.BigEndian.Uint64(v), nil
}

func (s *Store) ListPop(ctx context.Context, listKey, pendingKey string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var popped, missing []string
	err := s.run(ctx, "ListPop", func(b *pebble.Batch) error {
		var delErr error
		err := s.db.ScanPrefix(listItemPrefix(listKey), func(k, v []byte) bool {
			if len(popped) >= n {
				return false
			}
			if delErr = b.Delete(k, nil); delErr != nil {
				return false
			}
			popped = append(popped, string(v))
			return true
		})
		if err != nil {
			return err
		}
		if delErr != nil {
			return delErr
		}
		missing, err = s.unmarkPending(b, pendingKey, popped)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return popped, &store.PartialBatchError{Op: "ListPop", Members: missing}
	}
	return popped, nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.view("ListLen", func() error {
		return s.db.ScanPrefix(listItemPrefix(key), func(_, _ []byte) bool {
			n++
			return true
		})
	})
	return n, err
}

// log returns the log for key, opening it on first use. Callers hold s.mu.
func (s *Store) log(key string) (*eventlog.Log, error) {
	if l, ok := s.logs[key]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(s.db, key)
	if err != nil {
		return nil, err
	}
	s.logs[key] = l
	return l, nil
}

func (s *Store) LogCreateGroup(ctx context.Context, logKey, group string) error {
	return s.run(ctx, "LogCreateGroup", func(b *pebble.Batch) error {
		l, err := s.log(logKey)
		if err != nil {
			return err
		}
		_, err = l.CreateGroup(b, group)
		return err
	})
}

func (s *Store) LogEnqueue(ctx context.Context, logKey, pendingKey string, members []string) ([]store.Entry, error) {
	if len(members) == 0 {
		return nil, nil
	}
	var (
		entries []store.Entry
		l       *eventlog.Log
	)
	err := s.run(ctx, "LogEnqueue", func(b *pebble.Batch) error {
		var err error
		if l, err = s.log(logKey); err != nil {
			return err
		}
		fresh, err := s.markPending(b, pendingKey, members)
		if err != nil || len(fresh) == 0 {
			return err
		}
		payloads := make([][]byte, len(fresh))
		for i, m := range fresh {
			payloads[i] = []byte(m)
		}
		ids, err := l.Append(b, payloads)
		if err != nil {
			return err
		}
		for i, eid := range ids {
			entries = append(entries, store.Entry{ID: eid.String(), Member: fresh[i]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		l.Notify()
	}
	return entries, nil
}

func (s *Store) LogReadGroup(ctx context.Context, logKey, group, consumer string, n int, block time.Duration) ([]store.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(block)
	for {
		var (
			out    []store.Entry
			waiter <-chan struct{}
		)
		err := s.run(ctx, "LogReadGroup", func(b *pebble.Batch) error {
			l, err := s.log(logKey)
			if err != nil {
				return err
			}
			waiter = l.Waiter()
			got, err := l.ReadGroup(b, group, consumer, n)
			if err != nil {
				return err
			}
			for _, d := range got {
				out = append(out, store.Entry{ID: d.ID.String(), Member: string(d.Payload)})
			}
			return nil
		})
		if err != nil || len(out) > 0 {
			return out, err
		}
		remaining := time.Until(deadline)
		if block <= 0 || remaining <= 0 {
			return nil, nil
		}
		if !eventlog.Wait(ctx, waiter, remaining) && ctx.Err() != nil {
			return nil, store.Transport("LogReadGroup", ctx.Err())
		}
	}
}

func (s *Store) LogAck(ctx context.Context, logKey, pendingKey, group string, entries []store.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	members := make(map[id.ID]string, len(entries))
	ids := make([]id.ID, 0, len(entries))
	for _, e := range entries {
		eid, err := id.Parse(e.ID)
		if err != nil {
			continue
		}
		members[eid] = e.Member
		ids = append(ids, eid)
	}
	var (
		acked   int
		missing []string
	)
	err := s.run(ctx, "LogAck", func(b *pebble.Batch) error {
		l, err := s.log(logKey)
		if err != nil {
			return err
		}
		done, err := l.Ack(b, group, ids)
		if err != nil {
			return err
		}
		unmark := make([]string, len(done))
		for i, eid := range done {
			unmark[i] = members[eid]
		}
		missing, err = s.unmarkPending(b, pendingKey, unmark)
		acked = len(done)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		return acked, &store.PartialBatchError{Op: "LogAck", Members: missing}
	}
	return acked, nil
}

func (s *Store) LogPending(ctx context.Context, logKey, group string, n int) ([]store.PendingEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []store.PendingEntry
	err := s.view("LogPending", func() error {
		l, err := s.log(logKey)
		if err != nil {
			return err
		}
		pend, err := l.PendingEntries(group, n)
		if err != nil {
			return err
		}
		out = make([]store.PendingEntry, len(pend))
		for i, p := range pend {
			out[i] = store.PendingEntry{ID: p.ID.String(), Consumer: p.Consumer, Idle: p.Idle, Deliveries: p.Deliveries}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LogClaim(ctx context.Context, logKey, group, consumer string, minIdle time.Duration, ids []string) ([]store.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]id.ID, 0, len(ids))
	for _, raw := range ids {
		if eid, err := id.Parse(raw); err == nil {
			parsed = append(parsed, eid)
		}
	}
	var out []store.Entry
	err := s.run(ctx, "LogClaim", func(b *pebble.Batch) error {
		l, err := s.log(logKey)
		if err != nil {
			return err
		}
		got, err := l.Claim(b, group, consumer, minIdle, parsed)
		if err != nil {
			return err
		}
		for _, d := range got {
			out = append(out, store.Entry{ID: d.ID.String(), Member: string(d.Payload)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LogLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.view("LogLen", func() error {
		l, err := s.log(key)
		if err != nil {
			return err
		}
		n, err = l.Len()
		return err
	})
	return n, err
}
