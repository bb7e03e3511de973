// Package workqueue implements pulse's queues on the shared store.
//
// Two topologies share one Queue interface:
//
//   - ListQueue (AtMostOnce): a FIFO list. Dequeue pops and unmarks in one
//     atomic step; Ack is a no-op. Items lost to a crash come back with the
//     next dispatcher run.
//   - AckQueue (AtLeastOnce): an append-only log read through one consumer
//     group. Items stay pending until Ack, which also deletes the record.
//
// Both publish through dedup-enqueue: an account already outstanding in a
// queue is skipped, so a queue never holds the same account twice.
//
// Reclaimer takes over AckQueue items whose consumer has been idle longer
// than MinIdle and dead-letters items that keep failing.
//
// Usage
//
//	q, _ := workqueue.Open(ctx, st, keys, "check", workqueue.Options{Mode: workqueue.AtLeastOnce}, logger, m)
//	appended, _ := q.Publish(ctx, ids)
//	items, _ := q.Dequeue(ctx, "host-1", 100, time.Second)
//	_, _ = q.Ack(ctx, items)
package workqueue
