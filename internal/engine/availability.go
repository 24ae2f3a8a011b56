package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewear/exchange/internal/domain/item"
	apperrors "github.com/rewear/exchange/internal/errors"
	"github.com/rewear/exchange/internal/storage"
	"github.com/rewear/exchange/pkg/logger"
)

// Availability owns item availability transitions. Every transition is a
// store-level compare-and-swap: when two callers race for the same item
// exactly one wins and the loser sees ok=false, a normal domain outcome.
type Availability struct {
	items storage.ItemStore
	log   *logger.Logger
}

// NewAvailability creates the availability manager over the given item store.
func NewAvailability(items storage.ItemStore, log *logger.Logger) *Availability {
	if log == nil {
		log = logger.NewDefault("availability")
	}
	return &Availability{items: items, log: log}
}

// TryClaim claims an available item for claimantID. ok=false means another
// claim or reservation got there first.
func (a *Availability) TryClaim(ctx context.Context, itemID, claimantID string) (bool, error) {
	ok, err := a.items.SwapAvailability(ctx, itemID, item.StatusAvailable, item.StatusClaimed, claimantID)
	if err != nil {
		return false, mapItemErr(err, itemID)
	}
	return ok, nil
}

// ClaimReserved claims an item out of a reservation, used when the swap
// holding the reservation completes.
func (a *Availability) ClaimReserved(ctx context.Context, itemID, claimantID string) (bool, error) {
	ok, err := a.items.SwapAvailability(ctx, itemID, item.StatusReserved, item.StatusClaimed, claimantID)
	if err != nil {
		return false, mapItemErr(err, itemID)
	}
	return ok, nil
}

// MarkReserved places a hold on an available item for the duration of a swap
// negotiation.
func (a *Availability) MarkReserved(ctx context.Context, itemID string) (bool, error) {
	ok, err := a.items.SwapAvailability(ctx, itemID, item.StatusAvailable, item.StatusReserved, "")
	if err != nil {
		return false, mapItemErr(err, itemID)
	}
	return ok, nil
}

// Release reverts a reserved or claimed item back to available. Releasing an
// item that is already available is a no-op, which keeps decline, cancel and
// expire compensation idempotent.
func (a *Availability) Release(ctx context.Context, itemID string) error {
	ok, err := a.items.SwapAvailability(ctx, itemID, item.StatusReserved, item.StatusAvailable, "")
	if err != nil {
		return mapItemErr(err, itemID)
	}
	if ok {
		return nil
	}

	ok, err = a.items.SwapAvailability(ctx, itemID, item.StatusClaimed, item.StatusAvailable, "")
	if err != nil {
		return mapItemErr(err, itemID)
	}
	if ok {
		return nil
	}

	it, err := a.items.GetItem(ctx, itemID)
	if err != nil {
		return mapItemErr(err, itemID)
	}
	if it.Availability == item.StatusAvailable {
		return nil
	}
	return apperrors.Internal(fmt.Sprintf("item %s could not be released from %s", itemID, it.Availability), nil)
}

// Unclaim reverts a claim back to a reservation; the compensating step when
// swap completion claims one item and fails on the other.
func (a *Availability) Unclaim(ctx context.Context, itemID string) (bool, error) {
	ok, err := a.items.SwapAvailability(ctx, itemID, item.StatusClaimed, item.StatusReserved, "")
	if err != nil {
		return false, mapItemErr(err, itemID)
	}
	return ok, nil
}

func mapItemErr(err error, itemID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(fmt.Sprintf("item %s not found", itemID))
	}
	return apperrors.Internal("item storage failure", err)
}
