package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Rule is a compiled CEL boolean expression over an account document.
//
// Variables: account (the decoded JSON document), id (base58 text),
// now_ms (current time in ms).
type Rule struct {
	expr string
	prog cel.Program
}

// CompileRule parses and type-checks expr.
func CompileRule(expr string) (*Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("evaluator: empty rule")
	}
	env, err := cel.NewEnv(
		cel.Variable("account", cel.DynType),
		cel.Variable("id", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("evaluator: parse rule: %w", iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("evaluator: check rule: %w", iss2.Err())
	}
	if out := checked.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("evaluator: rule must be boolean, got %s", out)
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Rule{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (r *Rule) String() string { return r.expr }

// Eligible evaluates the rule for one document.
func (r *Rule) Eligible(id string, doc map[string]any) (bool, error) {
	out, _, err := r.prog.Eval(map[string]any{
		"account": doc,
		"id":      id,
		"now_ms":  time.Now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluator: rule %q: %w", r.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluator: rule %q returned %T", r.expr, out.Value())
	}
	return b, nil
}
