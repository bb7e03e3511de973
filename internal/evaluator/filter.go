package evaluator

import (
	"math"
	"strconv"
	"strings"
)

// Filter is a set of optional bounds over the numeric fields of an account
// document: asset_value, maint_percentage and maint. Nil bounds are ignored.
type Filter struct {
	MinAssetValue      *float64 `json:"minAssetValue,omitempty" yaml:"minAssetValue,omitempty" toml:"minAssetValue,omitempty"`
	MaxAssetValue      *float64 `json:"maxAssetValue,omitempty" yaml:"maxAssetValue,omitempty" toml:"maxAssetValue,omitempty"`
	MinMaintPercentage *float64 `json:"minMaintPercentage,omitempty" yaml:"minMaintPercentage,omitempty" toml:"minMaintPercentage,omitempty"`
	MaxMaintPercentage *float64 `json:"maxMaintPercentage,omitempty" yaml:"maxMaintPercentage,omitempty" toml:"maxMaintPercentage,omitempty"`
	MinMaint           *float64 `json:"minMaint,omitempty" yaml:"minMaint,omitempty" toml:"minMaint,omitempty"`
	MaxMaint           *float64 `json:"maxMaint,omitempty" yaml:"maxMaint,omitempty" toml:"maxMaint,omitempty"`
}

// Empty reports whether no bound is set.
func (f Filter) Empty() bool { return f.Expr() == "" }

// Expr renders the filter as a CEL expression, "" when no bound is set.
func (f Filter) Expr() string {
	var clauses []string
	add := func(field, op string, v *float64) {
		if v == nil {
			return
		}
		clauses = append(clauses, "double(account."+field+") "+op+" "+doubleLiteral(*v))
	}
	add("asset_value", ">=", f.MinAssetValue)
	add("asset_value", "<=", f.MaxAssetValue)
	add("maint_percentage", ">=", f.MinMaintPercentage)
	add("maint_percentage", "<=", f.MaxMaintPercentage)
	add("maint", ">=", f.MinMaint)
	add("maint", "<=", f.MaxMaint)
	return strings.Join(clauses, " && ")
}

// Rule compiles the filter.
func (f Filter) Rule() (*Rule, error) { return CompileRule(f.Expr()) }

// doubleLiteral renders v so CEL parses it as a double. A bare "10" is an
// int literal, and CEL has no int/double comparison overloads.
func doubleLiteral(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return `double("` + strconv.FormatFloat(v, 'g', -1, 64) + `")`
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
