package worker

import (
	"context"
	"fmt"

	"github.com/rzbill/pulse/internal/evaluator"
	"github.com/rzbill/pulse/internal/registry"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/account"
	"github.com/rzbill/pulse/pkg/log"
)

// Role names the job a worker process performs.
type Role string

const (
	// RoleIntake registers eligible accounts from the add queue.
	RoleIntake Role = "intake"
	// RoleRecheck re-evaluates registered accounts from the check queue.
	RoleRecheck Role = "recheck"
	// RoleEvict unregisters accounts from the remove queue.
	RoleEvict Role = "evict"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleIntake, RoleRecheck, RoleEvict:
		return r, nil
	default:
		return "", fmt.Errorf("worker: unknown role %q", s)
	}
}

// Queue returns the reference queue a role consumes.
func (r Role) Queue() string {
	switch r {
	case RoleIntake:
		return "add"
	case RoleRecheck:
		return "check"
	case RoleEvict:
		return "remove"
	}
	return ""
}

// verdict treats a nil evaluator as keeping everything.
func verdict(ctx context.Context, eval evaluator.Evaluator, id account.ID) (evaluator.Verdict, error) {
	if eval == nil {
		return evaluator.Keep, nil
	}
	v, err := eval.Evaluate(ctx, id)
	if err != nil {
		return v, fmt.Errorf("evaluate %s: %w", id, err)
	}
	return v, nil
}

// Intake adds accounts the evaluator keeps to the registry.
func Intake(reg *registry.Registry, eval evaluator.Evaluator, logger log.Logger) Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return HandlerFunc(func(ctx context.Context, it workqueue.Item) error {
		v, err := verdict(ctx, eval, it.Account)
		if err != nil {
			return err
		}
		if v == evaluator.Drop {
			logger.Debug("account not eligible", log.Str("account", it.Account.String()))
			return nil
		}
		n, err := reg.Add(ctx, []account.ID{it.Account})
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("account registered", log.Str("account", it.Account.String()))
		}
		return nil
	})
}

// Recheck re-evaluates a registered account. Dropped accounts are published
// to remove, or removed from the registry directly when remove is nil.
func Recheck(reg *registry.Registry, eval evaluator.Evaluator, remove workqueue.Queue, logger log.Logger) Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return HandlerFunc(func(ctx context.Context, it workqueue.Item) error {
		v, err := verdict(ctx, eval, it.Account)
		if err != nil || v == evaluator.Keep {
			return err
		}
		ids := []account.ID{it.Account}
		if remove != nil {
			if _, err := remove.Publish(ctx, ids); err != nil {
				return fmt.Errorf("publish to %s: %w", remove.Name(), err)
			}
			logger.Debug("account queued for removal", log.Str("account", it.Account.String()))
			return nil
		}
		if _, err := reg.Remove(ctx, ids); err != nil {
			return err
		}
		logger.Info("account unregistered", log.Str("account", it.Account.String()))
		return nil
	})
}

// Evict removes accounts from the registry.
func Evict(reg *registry.Registry, logger log.Logger) Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return HandlerFunc(func(ctx context.Context, it workqueue.Item) error {
		n, err := reg.Remove(ctx, []account.ID{it.Account})
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("account unregistered", log.Str("account", it.Account.String()))
		}
		return nil
	})
}
