package eventlog

import (
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

// ErrCorrupt is returned when a stored value fails its checksum.
var ErrCorrupt = errors.New("eventlog: corrupt record")

// nowMs is the clock used for delivery times.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Log is an append-only log with consumer groups persisted in Pebble.
//
// Mutating methods write into a caller supplied batch so a log update can
// commit together with other keys. Callers serialize mutations and call
// Notify after a batch holding appended entries commits.
type Log struct {
	db   *pebblestore.DB
	name string
	gen  *id.Generator

	mu       sync.Mutex
	notifyCh chan struct{}
}

// OpenLog initializes a Log and resumes its id generator from metadata.
func OpenLog(db *pebblestore.DB, name string) (*Log, error) {
	l := &Log{db: db, name: name, gen: id.NewGenerator(), notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyMeta(name))
	switch {
	case err == nil:
		last, err := id.FromBytes(meta)
		if err != nil {
			return nil, err
		}
		l.gen.Observe(last)
	case !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	return l, nil
}

// Name returns the log name.
func (l *Log) Name() string { return l.name }

// Append writes payloads as new entries into b and returns their ids.
func (l *Log) Append(b *pebble.Batch, payloads [][]byte) ([]id.ID, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	ids := make([]id.ID, len(payloads))
	for i, p := range payloads {
		eid := l.gen.Next()
		if err := b.Set(KeyEntry(l.name, eid), EncodeEntry(p), nil); err != nil {
			return nil, err
		}
		ids[i] = eid
	}
	last := ids[len(ids)-1]
	if err := b.Set(KeyMeta(l.name), last[:], nil); err != nil {
		return nil, err
	}
	return ids, nil
}

// Notify wakes every WaitForAppend caller.
func (l *Log) Notify() {
	l.mu.Lock()
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	l.mu.Unlock()
}

// Get returns the payload of an entry. ok is false when it does not exist.
func (l *Log) Get(eid id.ID) (payload []byte, ok bool, err error) {
	v, err := l.db.Get(KeyEntry(l.name, eid))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	p, valid := DecodeEntry(v)
	if !valid {
		return nil, false, ErrCorrupt
	}
	return p, true, nil
}

// Delete removes an entry in b.
func (l *Log) Delete(b *pebble.Batch, eid id.ID) error {
	return b.Delete(KeyEntry(l.name, eid), nil)
}

// Len counts the entries currently stored.
func (l *Log) Len() (int64, error) {
	var n int64
	err := l.db.ScanPrefix(KeyEntryPrefix(l.name), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}
