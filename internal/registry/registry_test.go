package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/internal/store/embedded"
	"github.com/rzbill/pulse/pkg/account"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := embedded.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "pulse:accounts", nil, nil), st
}

func acct(b byte) account.ID {
	var id account.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestAddIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	n, err := r.Add(ctx, []account.ID{acct(1), acct(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Add(ctx, []account.ID{acct(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []account.ID{acct(1), acct(2)}, all)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRemoveTwiceReturnsZero(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Add(ctx, []account.ID{acct(1)})
	require.NoError(t, err)

	n, err := r.Remove(ctx, []account.ID{acct(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Remove(ctx, []account.ID{acct(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEmptyInputSkipsStore(t *testing.T) {
	r, _ := newTestRegistry(t)
	n, err := r.Add(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = r.Remove(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetAllSkipsUndecodableMembers(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.SetAdd(ctx, r.Key(), acct(3).String(), "not-base58-0OIl")
	require.NoError(t, err)

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []account.ID{acct(3)}, all)
}
