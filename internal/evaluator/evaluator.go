package evaluator

import (
	"context"

	"github.com/rzbill/pulse/pkg/account"
)

// Verdict is the eligibility decision for one account.
type Verdict int

const (
	// Keep means the account stays (or becomes) registered.
	Keep Verdict = iota
	// Drop means the account should leave the registry.
	Drop
)

func (v Verdict) String() string {
	if v == Keep {
		return "keep"
	}
	return "drop"
}

// Evaluator decides whether an account belongs in the registry.
type Evaluator interface {
	Evaluate(ctx context.Context, id account.ID) (Verdict, error)
}

// Func adapts a function to Evaluator.
type Func func(ctx context.Context, id account.ID) (Verdict, error)

func (f Func) Evaluate(ctx context.Context, id account.ID) (Verdict, error) { return f(ctx, id) }
