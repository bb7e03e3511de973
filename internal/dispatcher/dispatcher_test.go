package dispatcher

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/registry"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/internal/store/embedded"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/account"
	"github.com/rzbill/pulse/pkg/log"
)

var testKeys = store.Keys{Prefix: "test:"}

func acct(b byte) account.ID {
	var id account.ID
	for i := range id {
		id[i] = b
	}
	return id
}

var (
	accA = acct(0xA)
	accB = acct(0xB)
	accC = acct(0xC)
)

type fixture struct {
	reg   *registry.Registry
	queue workqueue.Queue
}

func newFixture(t *testing.T, mode workqueue.Mode, ids ...account.ID) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := embedded.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(st, testKeys.Registry(), nil, nil)
	_, err = reg.Add(ctx, ids)
	require.NoError(t, err)
	q, err := workqueue.Open(ctx, st, testKeys, "check", workqueue.Options{Mode: mode}, nil, nil)
	require.NoError(t, err)
	return fixture{reg: reg, queue: q}
}

func TestRunOnceDeduplicatesAcrossCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, workqueue.AtLeastOnce, accA, accB, accC)
	d := New(f.reg, f.queue, Config{}, nil, nil)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 3, res.Appended)
	assert.Equal(t, 1.0, res.Ratio())

	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Read)
	assert.Zero(t, res.Appended)
	assert.Zero(t, res.Ratio())

	items, err := f.queue.Dequeue(ctx, "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, err = f.queue.Ack(ctx, items)
	require.NoError(t, err)

	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Appended)
}

func TestRunOnceRecoversAtMostOnceLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, workqueue.AtMostOnce, accA, accB)
	d := New(f.reg, f.queue, Config{}, nil, nil)

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)

	// The consumer pops an item and crashes before handling it.
	lost, err := f.queue.Dequeue(ctx, "", 1, 0)
	require.NoError(t, err)
	require.Len(t, lost, 1)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Appended)

	items, err := f.queue.Dequeue(ctx, "", 10, 0)
	require.NoError(t, err)
	got := make(map[account.ID]bool)
	for _, it := range items {
		got[it.Account] = true
	}
	assert.True(t, got[lost[0].Account], "lost item is queued again")
	assert.Len(t, items, 2)
}

func TestRunOnceEmptyRegistry(t *testing.T) {
	f := newFixture(t, workqueue.AtMostOnce)
	res, err := New(f.reg, f.queue, Config{}, nil, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Elapsed: res.Elapsed}, res)
	assert.Zero(t, res.Ratio())
}

func TestRunOncePublishesInChunks(t *testing.T) {
	var ids []account.ID
	for i := 0; i < 25; i++ {
		ids = append(ids, acct(byte(i+1)))
	}
	f := newFixture(t, workqueue.AtLeastOnce, ids...)

	res, err := New(f.reg, f.queue, Config{BatchSize: 10}, nil, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Appended)

	st, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), st.Outstanding)
}

func TestChunks(t *testing.T) {
	ids := make([]account.ID, 7)
	got := chunks(ids, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, chunks(nil, 3))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStallWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, workqueue.AtLeastOnce, accA)
	var out syncBuffer
	logger := log.NewLogger(log.WithWriter(&out), log.WithLevel(log.WarnLevel))
	d := New(f.reg, f.queue, Config{StallCycles: 2, StallRatio: 0}, logger, nil)

	for i := 0; i < 2; i++ {
		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.NotContains(t, out.String(), "not draining", "first cycle appended, second is the first stalled one")

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "not draining"))
}

func TestRunSchedulesCycles(t *testing.T) {
	f := newFixture(t, workqueue.AtLeastOnce, accA, accB)
	m := metrics.New()
	d := New(f.reg, f.queue, Config{Interval: 20 * time.Millisecond}, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(m.Registry(), "pulse_dispatcher_runs_total")
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)

	st, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Outstanding)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
