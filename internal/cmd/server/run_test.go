package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/dispatcher"
	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/internal/worker"
	"github.com/rzbill/pulse/pkg/account"
)

func openRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Store.Backend = cfgpkg.BackendEmbedded
	cfg.Store.InMemory = true
	cfg.Worker.BlockTimeoutMs = 10
	cfg.Worker.IdlePollIntervalMs = 10
	cfg.Dispatcher.IntervalMs = 10
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func acct(b byte) account.ID {
	var id account.ID
	id[0] = b
	return id
}

func TestRunRequiresExactlyOneMode(t *testing.T) {
	if err := Run(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error with no mode")
	}
	err := Run(context.Background(), Options{Dispatch: &DispatchOptions{}, Worker: &WorkerOptions{Role: worker.RoleEvict}})
	if err == nil {
		t.Fatalf("expected error with both modes")
	}
}

func TestRunDispatchOnce(t *testing.T) {
	rt := openRuntime(t)
	ctx := context.Background()
	if _, err := rt.Registry().Add(ctx, []account.ID{acct(1), acct(2)}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var got dispatcher.Result
	err := Run(ctx, Options{Runtime: rt, Dispatch: &DispatchOptions{Once: true, OnResult: func(r dispatcher.Result) { got = r }}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Read != 2 || got.Appended != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRunEvictWorkerUntilCancelled(t *testing.T) {
	rt := openRuntime(t)
	ctx := context.Background()
	reg := rt.Registry()
	if _, err := reg.Add(ctx, []account.ID{acct(1), acct(2)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	remove, err := rt.Queue(ctx, "remove")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := remove.Publish(ctx, []account.ID{acct(1)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- Run(rctx, Options{Runtime: rt, Worker: &WorkerOptions{Role: worker.RoleEvict}}) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := reg.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("evict worker never removed the account")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
