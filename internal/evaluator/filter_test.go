package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestFilterExpr(t *testing.T) {
	assert.True(t, Filter{}.Empty())

	f := Filter{MinAssetValue: ptr(10), MaxMaintPercentage: ptr(0.2)}
	assert.Equal(t, "double(account.asset_value) >= 10.0 && double(account.maint_percentage) <= 0.2", f.Expr())

	rule, err := f.Rule()
	require.NoError(t, err)

	ok, err := rule.Eligible("x", map[string]any{"asset_value": 25.0, "maint_percentage": 0.1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Eligible("x", map[string]any{"asset_value": 25.0, "maint_percentage": 0.5})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterWholeNumberBounds(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		doc    map[string]any
		want   bool
	}{
		{"whole min passes", Filter{MinAssetValue: ptr(10)}, map[string]any{"asset_value": 10.0}, true},
		{"whole min fails", Filter{MinAssetValue: ptr(10)}, map[string]any{"asset_value": 9.5}, false},
		{"negative whole max", Filter{MaxMaint: ptr(-3)}, map[string]any{"maint": -4.0}, true},
		{"fractional max", Filter{MaxMaintPercentage: ptr(0.2)}, map[string]any{"maint_percentage": 0.25}, false},
		{"large bound", Filter{MaxAssetValue: ptr(1e21)}, map[string]any{"asset_value": 5.0}, true},
		{"infinite bound", Filter{MaxAssetValue: ptr(math.Inf(1))}, map[string]any{"asset_value": 5.0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := tc.filter.Rule()
			require.NoError(t, err, "expr %q", tc.filter.Expr())
			ok, err := rule.Eligible("x", tc.doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}
