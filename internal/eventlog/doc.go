// Package eventlog implements the append-only log behind the embedded
// store's at-least-once queues.
//
// # Overview
//
// Each log is persisted in Pebble under a length-prefixed name:
//   - x/{name}/m                  last assigned entry id
//   - x/{name}/e/{id16}           entries
//   - x/{name}/g/{group}/c        group cursor
//   - x/{name}/g/{group}/p/{id16} pending entries (delivered, unacknowledged)
//
// Entry ids come from pkg/id and render as "<ms>-<seq>".
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "pulse:{check}:queue")
//	b := db.NewBatch()
//	ids, _ := l.Append(b, [][]byte{payload})
//	_ = db.CommitBatch(ctx, b)
//	l.Notify()
//
//	// Consumer groups
//	_, _ = l.CreateGroup(b, "workers")
//	got, _ := l.ReadGroup(b, "workers", "consumer-1", 10)
//	acked, _ := l.Ack(b, "workers", ids)
//	pend, _ := l.PendingEntries("workers", 100)
//	claimed, _ := l.Claim(b, "workers", "consumer-2", time.Minute, ids)
//
// Mutations are written into caller batches and are not internally
// serialized; the embedded store runs every operation under one lock.
// WaitForAppend / Waiter give blocking reads a wake-up signal.
package eventlog
