package id

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalid is returned by Parse for text that is not "<ms>-<seq>".
var ErrInvalid = errors.New("id: invalid entry id")

// ID identifies a log entry. It is 16 bytes big-endian:
// [8 bytes ms_timestamp][8 bytes sequence], so byte order is entry order.
type ID [16]byte

// Zero is the id that precedes every generated id.
var Zero ID

// New builds an ID from its parts.
func New(ms, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], ms)
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}

// FromBytes decodes a 16-byte representation.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != len(id) {
		return id, fmt.Errorf("%w: %d bytes", ErrInvalid, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes the textual "<ms>-<seq>" form produced by String.
func Parse(s string) (ID, error) {
	msPart, seqPart, ok := strings.Cut(s, "-")
	if !ok {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return New(ms, seq), nil
}

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// Ms returns the millisecond component.
func (i ID) Ms() uint64 { return binary.BigEndian.Uint64(i[0:8]) }

// Seq returns the sequence component.
func (i ID) Seq() uint64 { return binary.BigEndian.Uint64(i[8:16]) }

// String returns the "<ms>-<seq>" form, the same shape Redis uses for stream ids.
func (i ID) String() string {
	return strconv.FormatUint(i.Ms(), 10) + "-" + strconv.FormatUint(i.Seq(), 10)
}

// IsZero reports whether i is the zero id.
func (i ID) IsZero() bool { return i == Zero }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Generator produces strictly increasing IDs. A generator resumed with
// Observe never emits an id at or below the observed one.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Observe advances the generator so the next id is greater than last.
func (g *Generator) Observe(last ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := int64(last.Ms())
	if ms > g.lastMs || (ms == g.lastMs && last.Seq() > g.sequence) {
		g.lastMs = ms
		g.sequence = last.Seq()
	}
}

// Next returns a new ID. If clock goes backwards, it uses lastMs and increments sequence.
// If sequence overflows within the same millisecond, it busy-waits for next ms.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return New(uint64(ms), g.sequence)
}
