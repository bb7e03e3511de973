// Package redisstore implements store.Store on Redis with go-redis.
//
// Multi-key operations (dedup enqueue, pop-and-unmark, ack-and-unmark) are
// Lua scripts, so Redis runs each one without interleaving. Logs are Redis
// streams read through consumer groups.
package redisstore
