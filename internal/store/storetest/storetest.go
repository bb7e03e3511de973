// Package storetest holds the behavioral suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/pulse/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s store.Store){
		"Sets":                     testSets,
		"ListEnqueueDedups":        testListEnqueueDedups,
		"ListPopFIFOAndUnmarks":    testListPopFIFOAndUnmarks,
		"LogEnqueueDedups":         testLogEnqueueDedups,
		"LogReadGroupDisjoint":     testLogReadGroupDisjoint,
		"LogAckClearsPending":      testLogAckClearsPending,
		"LogAckPartialBatch":       testLogAckPartialBatch,
		"LogPendingAndClaim":       testLogPendingAndClaim,
		"LogReadGroupBlocks":       testLogReadGroupBlocks,
		"ConcurrentEnqueueOneWins": testConcurrentEnqueueOneWins,
	}
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := tests[name]
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			fn(t, s)
		})
	}
}

const (
	listKey    = "{q}:queue"
	logKey     = "{q}:log"
	pendingKey = "{q}:pending"
	group      = "workers"
)

func testSets(t *testing.T, s store.Store) {
	ctx := context.Background()
	n, err := s.SetAdd(ctx, "accounts", "a", "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SetAdd(ctx, "accounts", "b")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	members, err := s.SetMembers(ctx, "accounts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	card, err := s.SetCard(ctx, "accounts")
	require.NoError(t, err)
	assert.EqualValues(t, 2, card)

	n, err = s.SetRemove(ctx, "accounts", "a", "zzz")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.SetRemove(ctx, "accounts", "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	members, err = s.SetMembers(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testListEnqueueDedups(t *testing.T, s store.Store) {
	ctx := context.Background()
	got, err := s.ListEnqueue(ctx, listKey, pendingKey, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = s.ListEnqueue(ctx, listKey, pendingKey, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	n, err := s.ListLen(ctx, listKey)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	pending, err := s.SetMembers(ctx, pendingKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, pending)
}

func testListPopFIFOAndUnmarks(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.ListEnqueue(ctx, listKey, pendingKey, []string{"a", "b", "c"})
	require.NoError(t, err)

	got, err := s.ListPop(ctx, listKey, pendingKey, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ListPop(ctx, listKey, pendingKey, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	pending, err := s.SetMembers(ctx, pendingKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, pending)

	// A popped member can be queued again right away.
	again, err := s.ListEnqueue(ctx, listKey, pendingKey, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again)

	got, err = s.ListPop(ctx, listKey, pendingKey, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, got)

	got, err = s.ListPop(ctx, listKey, pendingKey, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testLogEnqueueDedups(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group), "creating an existing group is a no-op")

	entries, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Member)
	assert.Equal(t, "b", entries[1].Member)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	entries, err = s.LogEnqueue(ctx, logKey, pendingKey, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := s.LogLen(ctx, logKey)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func testLogReadGroupDisjoint(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))
	_, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a", "b", "c"})
	require.NoError(t, err)

	first, err := s.LogReadGroup(ctx, logKey, group, "c1", 2, 0)
	require.NoError(t, err)
	second, err := s.LogReadGroup(ctx, logKey, group, "c2", 5, 0)
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 1)
	var all []string
	for _, e := range append(first, second...) {
		all = append(all, e.Member)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, all)

	none, err := s.LogReadGroup(ctx, logKey, group, "c1", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLogAckClearsPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))
	_, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a"})
	require.NoError(t, err)

	got, err := s.LogReadGroup(ctx, logKey, group, "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Still outstanding until acked.
	again, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := s.LogAck(ctx, logKey, pendingKey, group, got)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.LogAck(ctx, logKey, pendingKey, group, got)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second ack is a no-op")

	n, err = s.LogAck(ctx, logKey, pendingKey, group, []store.Entry{{ID: "1-1", Member: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unknown ids are ignored")

	pending, err := s.SetMembers(ctx, pendingKey)
	require.NoError(t, err)
	assert.Empty(t, pending)

	length, err := s.LogLen(ctx, logKey)
	require.NoError(t, err)
	assert.EqualValues(t, 0, length, "acked records are deleted")

	again, err = s.LogEnqueue(ctx, logKey, pendingKey, []string{"a"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEqual(t, got[0].ID, again[0].ID)
}

func testLogAckPartialBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))
	_, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a"})
	require.NoError(t, err)
	got, err := s.LogReadGroup(ctx, logKey, group, "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Corrupt the invariant from outside.
	_, err = s.SetRemove(ctx, pendingKey, "a")
	require.NoError(t, err)

	n, err := s.LogAck(ctx, logKey, pendingKey, group, got)
	assert.Equal(t, 1, n)
	var pbe *store.PartialBatchError
	require.ErrorAs(t, err, &pbe)
	assert.Equal(t, []string{"a"}, pbe.Members)
	assert.ErrorIs(t, err, store.ErrPartialBatch)
}

func testLogPendingAndClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))
	_, err := s.LogEnqueue(ctx, logKey, pendingKey, []string{"a", "b"})
	require.NoError(t, err)
	got, err := s.LogReadGroup(ctx, logKey, group, "crashed", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	pend, err := s.LogPending(ctx, logKey, group, 10)
	require.NoError(t, err)
	require.Len(t, pend, 2)
	assert.Equal(t, got[0].ID, pend[0].ID)
	assert.Equal(t, "crashed", pend[0].Consumer)
	assert.EqualValues(t, 1, pend[0].Deliveries)

	none, err := s.LogClaim(ctx, logKey, group, "live", time.Hour, []string{pend[0].ID})
	require.NoError(t, err)
	assert.Empty(t, none, "entries younger than minIdle stay put")

	claimed, err := s.LogClaim(ctx, logKey, group, "live", 0, []string{pend[0].ID})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "a", claimed[0].Member)

	pend, err = s.LogPending(ctx, logKey, group, 10)
	require.NoError(t, err)
	assert.Equal(t, "live", pend[0].Consumer)
	assert.EqualValues(t, 2, pend[0].Deliveries)
	assert.Equal(t, "crashed", pend[1].Consumer)

	n, err := s.LogAck(ctx, logKey, pendingKey, group, claimed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testLogReadGroupBlocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.LogCreateGroup(ctx, logKey, group))

	start := time.Now()
	got, err := s.LogReadGroup(ctx, logKey, group, "c1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = s.LogEnqueue(context.Background(), logKey, pendingKey, []string{"late"})
	}()
	got, err = s.LogReadGroup(ctx, logKey, group, "c1", 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Member)
}

func testConcurrentEnqueueOneWins(t *testing.T, s store.Store) {
	ctx := context.Background()
	const producers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ListEnqueue(ctx, listKey, pendingKey, []string{"same"})
			assert.NoError(t, err)
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)

	n, err := s.ListLen(ctx, listKey)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
