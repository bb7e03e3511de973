// Package evaluator is the seam to the external eligibility check.
//
// Workers ask an Evaluator whether an account should stay registered. The
// bundled HTTP evaluator fetches a JSON document per account and applies a
// CEL rule such as
//
//	account.asset_value >= 1000.0 && account.maint_pct < 0.9
//
// Anything else (a numeric risk model, an RPC client) plugs in through the
// interface or Func.
package evaluator
