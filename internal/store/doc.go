// Package store defines the contract pulse needs from a shared key/value
// store: sets, FIFO lists, append-only logs with consumer groups, and
// multi-key operations that execute atomically on the store side.
//
// Two implementations exist: redisstore (Redis via Lua scripts) and
// embedded (a single-node Pebble database). storetest holds the behavioral
// suite both must pass.
//
// Errors returned by implementations wrap ErrTransport for failed round
// trips and ErrPartialBatch when an atomic unit finds the pending set out
// of step with its queue.
package store
