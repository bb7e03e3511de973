package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/worker"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/account"
)

func embeddedConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Store.Backend = cfgpkg.BackendEmbedded
	cfg.Store.DataDir = t.TempDir()
	cfg.Store.Fsync = "always"
	return cfg
}

func TestOpenCloseHealthEmbedded(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: embeddedConfig(t), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cfgpkg.Default()
	cfg.Store.URL = "redis://" + mr.Addr() + "/0"

	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	var id account.ID
	id[0] = 1
	if _, err := rt.Registry().Add(ctx, []account.ID{id}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !mr.Exists("pulse:accounts") {
		t.Fatalf("registry key should carry the configured prefix")
	}
}

func TestOpenUnreachableRedisFails(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Store.URL = "redis://127.0.0.1:1/0"
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected error for unreachable store")
	}
}

func TestQueueTopologyFromConfig(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: embeddedConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	check, err := rt.Queue(ctx, "check")
	if err != nil {
		t.Fatalf("open check: %v", err)
	}
	if check.Mode() != workqueue.AtMostOnce {
		t.Fatalf("check should be at-most-once, got %s", check.Mode())
	}
	add, err := rt.Queue(ctx, "add")
	if err != nil {
		t.Fatalf("open add: %v", err)
	}
	if add.Mode() != workqueue.AtLeastOnce {
		t.Fatalf("add should be at-least-once, got %s", add.Mode())
	}
	again, _ := rt.Queue(ctx, "check")
	if again != check {
		t.Fatalf("queues should be cached")
	}
}

func TestEvaluatorSelection(t *testing.T) {
	cfg := embeddedConfig(t)
	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if e, err := rt.Evaluator(); err != nil || e != nil {
		t.Fatalf("expected no evaluator without url, got %v %v", e, err)
	}

	rt.config.Evaluator.URL = "http://scanner"
	minAsset, maxMaintPct := 10.0, 0.2
	rt.config.Evaluator.Filter.MinAssetValue = &minAsset
	rt.config.Evaluator.Filter.MaxMaintPercentage = &maxMaintPct
	if e, err := rt.Evaluator(); err != nil || e == nil {
		t.Fatalf("filter with whole-number bound: got %v %v", e, err)
	}

	rt.config.Evaluator.Rule = "account.eligible &&"
	if _, err := rt.Evaluator(); err == nil {
		t.Fatalf("expected rule compile error")
	}
}

func TestBuildDispatcherAndWorkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"eligible":true}`))
	}))
	defer srv.Close()

	cfg := embeddedConfig(t)
	cfg.Evaluator.URL = srv.URL
	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	if _, err := rt.Dispatcher(ctx, ""); err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for _, role := range []worker.Role{worker.RoleIntake, worker.RoleRecheck, worker.RoleEvict} {
		if _, err := rt.Worker(ctx, role, ""); err != nil {
			t.Fatalf("worker %s: %v", role, err)
		}
	}
}

func TestRecheckRequiresEvaluator(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: embeddedConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, err := rt.Worker(context.Background(), worker.RoleRecheck, ""); err == nil {
		t.Fatalf("expected error without evaluator")
	}
}
