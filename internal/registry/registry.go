// Package registry maintains the authoritative set of accounts under watch.
package registry

import (
	"context"
	"fmt"

	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/store"
	"github.com/rzbill/pulse/pkg/account"
	"github.com/rzbill/pulse/pkg/log"
)

// Registry is a named set of account ids in the shared store. Adds and
// removes are idempotent; reads return an unordered snapshot.
type Registry struct {
	store   store.Store
	key     string
	logger  log.Logger
	metrics *metrics.Metrics
}

// New returns a Registry stored under key.
func New(st store.Store, key string, logger log.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		store:   st,
		key:     key,
		logger:  logger.WithComponent("registry"),
		metrics: m,
	}
}

// Key returns the store key of the set.
func (r *Registry) Key() string { return r.key }

// Add inserts ids and returns how many were not already present.
func (r *Registry) Add(ctx context.Context, ids []account.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.store.SetAdd(ctx, r.key, account.Strings(ids)...)
	if err != nil {
		return 0, fmt.Errorf("registry add: %w", err)
	}
	return n, nil
}

// Remove deletes ids and returns how many were present.
func (r *Registry) Remove(ctx context.Context, ids []account.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.store.SetRemove(ctx, r.key, account.Strings(ids)...)
	if err != nil {
		return 0, fmt.Errorf("registry remove: %w", err)
	}
	return n, nil
}

// GetAll returns every member. Members that do not decode are skipped and
// logged; they stay in the store.
func (r *Registry) GetAll(ctx context.Context) ([]account.ID, error) {
	members, err := r.store.SetMembers(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("registry read: %w", err)
	}
	ids := make([]account.ID, 0, len(members))
	dropped := 0
	for _, m := range members {
		id, err := account.Parse(m)
		if err != nil {
			dropped++
			r.logger.Warn("skipping undecodable registry member", log.Str("member", m), log.Err(err))
			continue
		}
		ids = append(ids, id)
	}
	r.metrics.AddDecodeDropped("registry", dropped)
	return ids, nil
}

// Count returns the number of members.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.store.SetCard(ctx, r.key)
	if err != nil {
		return 0, fmt.Errorf("registry count: %w", err)
	}
	return n, nil
}
