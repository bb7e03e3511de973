// Package id provides the entry identifiers used by the embedded log.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves append order. The textual form is
// "<ms>-<seq>", matching Redis stream ids, so entry ids look the same
// whichever store backend produced them.
//
// # Monotonicity
//
// The Generator never goes backwards:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond.
//   - Observe seeds the generator from a persisted id after a restart.
//
// Usage
//
//	g := id.NewGenerator()
//	g.Observe(lastPersisted)
//	next := g.Next()
//	s := next.String() // "1718000000000-0"
package id
