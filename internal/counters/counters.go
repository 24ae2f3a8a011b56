// Package counters tracks item view and like counts. These are plain
// monotonic counters owned by the item record; they sit outside the exchange
// invariants and only need an atomic increment primitive.
package counters

import (
	"context"

	"github.com/rewear/exchange/internal/storage"
)

// Counters records catalog engagement events.
type Counters interface {
	// RecordView bumps the item's view counter.
	RecordView(ctx context.Context, itemID string) error
	// Like records a like at most once per user; false when already liked.
	Like(ctx context.Context, itemID, userID string) (bool, error)
}

// StoreCounters keeps counters on the item record itself, using the item
// store's atomic increments.
type StoreCounters struct {
	items storage.ItemStore
}

var _ Counters = (*StoreCounters)(nil)

// NewStoreCounters creates counters backed by the item store.
func NewStoreCounters(items storage.ItemStore) *StoreCounters {
	return &StoreCounters{items: items}
}

func (c *StoreCounters) RecordView(ctx context.Context, itemID string) error {
	return c.items.IncrementViews(ctx, itemID)
}

func (c *StoreCounters) Like(ctx context.Context, itemID, userID string) (bool, error) {
	return c.items.AddLike(ctx, itemID, userID)
}
