package eventlog

import (
	"encoding/binary"

	"github.com/rzbill/pulse/pkg/id"
)

// Keyspace helpers for Pebble keys.
//
// Strings are length-prefixed (2 bytes big-endian) so no name can be a
// prefix of another. Layout:
//   - x/{name}/m                 last assigned entry id
//   - x/{name}/e/{id16}          entries
//   - x/{name}/g/{group}/c       group cursor: last delivered entry id
//   - x/{name}/g/{group}/p/{id16} pending entries of the group

var (
	logPrefix  = []byte("x/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
	groupSeg   = []byte("/g/")
	cursorSfx  = []byte("/c")
	pendingSeg = []byte("/p/")
)

func appendBE2(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func appendStr(dst []byte, s string) []byte {
	dst = appendBE2(dst, uint16(len(s)))
	return append(dst, s...)
}

func logBase(name string) []byte {
	k := make([]byte, 0, len(logPrefix)+2+len(name)+32)
	k = append(k, logPrefix...)
	return appendStr(k, name)
}

// KeyMeta is the key storing the last assigned id of a log.
func KeyMeta(name string) []byte {
	return append(logBase(name), metaSuffix...)
}

// KeyEntryPrefix prefixes every entry of a log.
func KeyEntryPrefix(name string) []byte {
	return append(logBase(name), entrySeg...)
}

// KeyEntry builds the entry key; id bytes keep entries in append order.
func KeyEntry(name string, eid id.ID) []byte {
	return append(KeyEntryPrefix(name), eid[:]...)
}

func groupBase(name, group string) []byte {
	k := append(logBase(name), groupSeg...)
	return appendStr(k, group)
}

// KeyCursor is the last entry id delivered to a group.
func KeyCursor(name, group string) []byte {
	return append(groupBase(name, group), cursorSfx...)
}

// KeyPendingPrefix prefixes every pending entry of a group.
func KeyPendingPrefix(name, group string) []byte {
	return append(groupBase(name, group), pendingSeg...)
}

// KeyPending is the pending record of one delivered entry.
func KeyPending(name, group string, eid id.ID) []byte {
	return append(KeyPendingPrefix(name, group), eid[:]...)
}

// idFromKey extracts the trailing 16-byte id of an entry or pending key.
func idFromKey(k []byte) (id.ID, error) {
	if len(k) < 16 {
		return id.Zero, id.ErrInvalid
	}
	return id.FromBytes(k[len(k)-16:])
}
