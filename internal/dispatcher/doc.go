// Package dispatcher fans the registry out to a work queue.
//
// Each cycle reads every registered account and publishes the ones not
// already outstanding on the target queue. Because publishing deduplicates,
// the dispatcher keeps no state and any number of replicas may run it.
package dispatcher
