package embedded

import (
	"context"
	"errors"
	"testing"
	"time"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/internal/store/storetest"
)

func newMemStore(t *testing.T) store.Store {
	t.Helper()
	s, err := Open(pebblestore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformanceInMemory(t *testing.T) {
	storetest.Run(t, newMemStore)
}

func TestConformanceOnDisk(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(pebblestore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.LogCreateGroup(ctx, "log", "g"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	entry := []store.Entry{{ID: "1-0", Member: "a"}}
	ops := map[string]func() error{
		"SetAdd":     func() error { _, err := s.SetAdd(ctx, "k", "a"); return err },
		"SetRemove":  func() error { _, err := s.SetRemove(ctx, "k", "a"); return err },
		"SetMembers": func() error { _, err := s.SetMembers(ctx, "k"); return err },
		"SetCard":    func() error { _, err := s.SetCard(ctx, "k"); return err },
		"ListEnqueue": func() error {
			_, err := s.ListEnqueue(ctx, "list", "pending", []string{"a"})
			return err
		},
		"ListPop":        func() error { _, err := s.ListPop(ctx, "list", "pending", 1); return err },
		"ListLen":        func() error { _, err := s.ListLen(ctx, "list"); return err },
		"LogCreateGroup": func() error { return s.LogCreateGroup(ctx, "log", "g") },
		"LogEnqueue": func() error {
			_, err := s.LogEnqueue(ctx, "log", "pending", []string{"a"})
			return err
		},
		"LogReadGroup": func() error {
			_, err := s.LogReadGroup(ctx, "log", "g", "c", 1, 10*time.Millisecond)
			return err
		},
		"LogAck":     func() error { _, err := s.LogAck(ctx, "log", "pending", "g", entry); return err },
		"LogPending": func() error { _, err := s.LogPending(ctx, "log", "g", 1); return err },
		"LogClaim": func() error {
			_, err := s.LogClaim(ctx, "log", "g", "c", 0, []string{"1-0"})
			return err
		},
		"LogLen": func() error { _, err := s.LogLen(ctx, "log"); return err },
		"Ping":   func() error { return s.Ping(ctx) },
	}
	for name, op := range ops {
		err := op()
		if !errors.Is(err, store.ErrClosed) {
			t.Fatalf("%s after close: got %v, want ErrClosed", name, err)
		}
		if !errors.Is(err, store.ErrTransport) {
			t.Fatalf("%s after close: %v is not a transport error", name, err)
		}
	}
}
