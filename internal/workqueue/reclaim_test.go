package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/pulse/pkg/account"
)

func openAck(t *testing.T) *AckQueue {
	t.Helper()
	q := openTestQueue(t, openMemStore(t), AtLeastOnce)
	return q.(*AckQueue)
}

func TestReclaimTakesOverIdleItems(t *testing.T) {
	ctx := context.Background()
	q := openAck(t)
	if _, err := q.Publish(ctx, []account.ID{accA, accB}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got, err := q.Dequeue(ctx, "crashed", 10, 0); err != nil || len(got) != 2 {
		t.Fatalf("dequeue: %v %v", got, err)
	}

	r := NewReclaimer(q, "live", ReclaimConfig{MinIdle: 100 * time.Millisecond}, nil)
	if got, err := r.ReclaimOnce(ctx); err != nil || len(got) != 0 {
		t.Fatalf("fresh deliveries must not be reclaimed: %v %v", got, err)
	}

	time.Sleep(150 * time.Millisecond)
	got, err := r.ReclaimOnce(ctx)
	if err != nil || !sameSet(accounts(got), []account.ID{accA, accB}) {
		t.Fatalf("reclaim: %v %v", got, err)
	}
	pend, err := q.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	for _, p := range pend {
		if p.Consumer != "live" || p.Deliveries != 2 {
			t.Fatalf("pending not transferred: %+v", p)
		}
	}
	if n, err := q.Ack(ctx, got); err != nil || n != 2 {
		t.Fatalf("ack reclaimed: %d %v", n, err)
	}
}

func TestReclaimDeadLettersAfterMaxDeliveries(t *testing.T) {
	ctx := context.Background()
	q := openAck(t)
	if _, err := q.Publish(ctx, []account.ID{accA}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := q.Dequeue(ctx, "c1", 10, 0); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	r := NewReclaimer(q, "c2", ReclaimConfig{MinIdle: time.Millisecond, MaxDeliveries: 1}, nil)
	got, err := r.ReclaimOnce(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("item past its delivery limit must not be returned: %v %v", got, err)
	}
	dead, err := q.DeadLettered(ctx)
	if err != nil || len(dead) != 1 || dead[0] != accA {
		t.Fatalf("dead letters: %v %v", dead, err)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Outstanding != 0 || stats.Unacked != 0 || stats.Backlog != 0 {
		t.Fatalf("dead-lettered item still outstanding: %+v", stats)
	}
}

func TestReclaimerLoopDeliversOnChannel(t *testing.T) {
	ctx := context.Background()
	q := openAck(t)
	if _, err := q.Publish(ctx, []account.ID{accC}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := q.Dequeue(ctx, "crashed", 1, 0); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	r := NewReclaimer(q, "live", ReclaimConfig{Interval: 10 * time.Millisecond, MinIdle: time.Millisecond}, nil)
	r.Start(ctx)
	defer r.Stop()

	select {
	case it := <-r.C():
		if it.Account != accC {
			t.Fatalf("unexpected item: %+v", it)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for reclaimed item")
	}
}
