// Package embedded implements store.Store on a local Pebble database for
// single-node deployments and tests.
//
// Sets and lists are key ranges; logs with consumer groups come from
// internal/eventlog. One lock per Store serializes operations and each
// operation commits a single batch, so multi-key updates are atomic.
// Blocking group reads release the lock and wake on appends.
package embedded
