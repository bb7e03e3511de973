package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/runtime"
	grpcserver "github.com/rzbill/pulse/internal/server/grpc"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store/embedded"
	"github.com/rzbill/pulse/pkg/account"
)

func testOpen(t *testing.T) OpenFunc {
	t.Helper()
	st, err := embedded.Open(pebblestore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := cfgpkg.Default()
	return func(ctx context.Context) (*runtime.Runtime, error) {
		return runtime.Open(ctx, runtime.Options{Config: cfg, Store: st})
	}
}

func run(t *testing.T, open OpenFunc, stdin string, args ...string) string {
	t.Helper()
	root := &cobra.Command{Use: "pulse", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root, open)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute %v: %v (output: %s)", args, err, buf.String())
	}
	return buf.String()
}

func acct(b byte) string {
	var id account.ID
	for i := range id {
		id[i] = b
	}
	return id.String()
}

func TestRegistryCommands(t *testing.T) {
	open := testOpen(t)
	out := run(t, open, "", "registry", "add", acct(1), acct(2))
	if !strings.Contains(out, `"added": 2`) {
		t.Fatalf("unexpected add output: %s", out)
	}
	out = run(t, open, acct(2)+"\n"+acct(3)+"\n", "registry", "add", "-")
	if !strings.Contains(out, `"added": 1`) {
		t.Fatalf("stdin add should add only the new id: %s", out)
	}
	out = run(t, open, "", "registry", "count")
	if !strings.Contains(out, `"count": 3`) {
		t.Fatalf("unexpected count: %s", out)
	}
	out = run(t, open, "", "registry", "remove", acct(1))
	if !strings.Contains(out, `"removed": 1`) {
		t.Fatalf("unexpected remove output: %s", out)
	}
	out = run(t, open, "", "registry", "list")
	if lines := strings.Fields(out); len(lines) != 2 {
		t.Fatalf("expected 2 listed accounts, got %q", out)
	}
}

func TestRegistryAddRejectsBadID(t *testing.T) {
	root := &cobra.Command{Use: "pulse", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root, testOpen(t))
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"registry", "add", "not-base58-0OIl"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestQueuePublishDequeueAck(t *testing.T) {
	open := testOpen(t)
	out := run(t, open, "", "queue", "publish", "--queue", "add", acct(1), acct(2))
	var pub struct {
		Requested int      `json:"requested"`
		Appended  []string `json:"appended"`
	}
	if err := json.Unmarshal([]byte(out), &pub); err != nil {
		t.Fatalf("decode publish: %v (%s)", err, out)
	}
	if pub.Requested != 2 || len(pub.Appended) != 2 {
		t.Fatalf("unexpected publish: %+v", pub)
	}

	out = run(t, open, "", "queue", "dequeue", "--queue", "add", "--max", "1")
	if !strings.Contains(out, "entryId") {
		t.Fatalf("at-least-once dequeue should report entry ids: %s", out)
	}

	out = run(t, open, "", "queue", "pending", "--queue", "add")
	var pending []pendingOut
	if err := json.Unmarshal([]byte(out), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Consumer != "cli" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	out = run(t, open, "", "queue", "dequeue", "--queue", "add", "--ack")
	if !strings.Contains(out, `"acked": 1`) {
		t.Fatalf("expected one ack: %s", out)
	}

	out = run(t, open, "", "queue", "stats", "--queue", "add")
	if !strings.Contains(out, `"outstanding": 1`) || !strings.Contains(out, `"unacked": 1`) {
		t.Fatalf("unexpected stats: %s", out)
	}

	out = run(t, open, "", "queue", "dead", "--queue", "add")
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected no dead letters: %s", out)
	}
}

func TestPendingRejectsListQueue(t *testing.T) {
	root := &cobra.Command{Use: "pulse", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root, testOpen(t))
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"queue", "pending", "--queue", "check"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for at-most-once queue")
	}
}

type upChecker struct{}

func (upChecker) CheckHealth(context.Context) error { return nil }

func TestHealthCommand(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpcserver.New(upChecker{}, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, lis)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	cmd := NewHealthCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	dialer := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
	if err := probeHealth(cmd, "passthrough:///bufnet", "", 2*time.Second, dialer); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(buf.String(), "SERVING") {
		t.Fatalf("expected SERVING, got %s", buf.String())
	}
}
