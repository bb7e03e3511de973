package eventlog

import (
	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

// Item is one entry returned by Read.
type Item struct {
	ID      id.ID
	Payload []byte
}

// Read returns up to limit entries with ids strictly greater than after, in
// append order. limit <= 0 means no limit.
func (l *Log) Read(after id.ID, limit int) ([]Item, error) {
	prefix := KeyEntryPrefix(l.name)
	lower := append(KeyEntry(l.name, after), 0x00)
	if after.IsZero() {
		lower = prefix
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: pebblestore.PrefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []Item
	for ok := iter.First(); ok && (limit <= 0 || len(items) < limit); ok = iter.Next() {
		eid, err := idFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		p, valid := DecodeEntry(iter.Value())
		if !valid {
			return nil, ErrCorrupt
		}
		items = append(items, Item{ID: eid, Payload: p})
	}
	return items, iter.Error()
}
