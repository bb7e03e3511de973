package store

import (
	"context"
	"time"
)

// Entry is one record of an append-only log as seen by a consumer group.
type Entry struct {
	// ID is the log-assigned identifier, "<ms>-<seq>".
	ID string
	// Member is the payload, the canonical text of an account id.
	Member string
}

// PendingEntry describes a delivered but unacknowledged log record.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// Store is the shared key/value store every component talks to.
//
// Methods that touch more than one key run as one indivisible unit on the
// store side; callers never hold locks of their own.
type Store interface {
	// SetAdd inserts members and returns how many were new.
	SetAdd(ctx context.Context, key string, members ...string) (int, error)
	// SetRemove deletes members and returns how many were present.
	SetRemove(ctx context.Context, key string, members ...string) (int, error)
	// SetMembers returns every member in no particular order.
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	// ListEnqueue appends each member absent from pendingKey to the tail of
	// listKey and marks it pending. It returns the members appended, in order.
	ListEnqueue(ctx context.Context, listKey, pendingKey string, members []string) ([]string, error)
	// ListPop removes up to n members from the head of listKey, unmarking
	// each in pendingKey. It never blocks.
	ListPop(ctx context.Context, listKey, pendingKey string, n int) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)

	// LogCreateGroup creates the log and a group reading it from the start.
	// It is a no-op when the group already exists.
	LogCreateGroup(ctx context.Context, logKey, group string) error
	// LogEnqueue appends each member absent from pendingKey as a new log
	// record and marks it pending.
	LogEnqueue(ctx context.Context, logKey, pendingKey string, members []string) ([]Entry, error)
	// LogReadGroup claims up to n records never delivered to group, owned by
	// consumer from now on. block == 0 polls; block > 0 waits at most block.
	LogReadGroup(ctx context.Context, logKey, group, consumer string, n int, block time.Duration) ([]Entry, error)
	// LogAck acknowledges entries for group. For every entry whose ack takes
	// effect the member is unmarked in pendingKey and the record deleted.
	// It returns the number acknowledged.
	LogAck(ctx context.Context, logKey, pendingKey, group string, entries []Entry) (int, error)
	// LogPending lists up to n delivered but unacknowledged records, oldest first.
	LogPending(ctx context.Context, logKey, group string, n int) ([]PendingEntry, error)
	// LogClaim transfers the listed records to consumer when they have been
	// idle for at least minIdle, bumping their delivery count.
	LogClaim(ctx context.Context, logKey, group, consumer string, minIdle time.Duration, ids []string) ([]Entry, error)
	LogLen(ctx context.Context, key string) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
