// Package worker runs queue consumers.
//
// A Runtime repeatedly dequeues batches from a workqueue.Queue and runs a
// Handler for every item on its own goroutine, bounded by a fixed pool of
// permits. Successful items are acknowledged on at-least-once queues; failed
// ones stay pending until the reclaimer hands them to a live consumer.
//
// Example:
//
//	rt, _ := worker.New(q, worker.Evict(reg, logger), worker.Options{Capacity: 8}, logger, m)
//	_ = rt.Run(ctx)
package worker
