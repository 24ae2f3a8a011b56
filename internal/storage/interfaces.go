// Package storage defines the persistence contracts the exchange engine is
// built on. Every mutation the engine's invariants depend on is exposed as a
// single-record atomic primitive (conditional update or compare-and-swap) or
// a store-managed transaction; the engine never holds an in-process lock
// across a storage call.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	"github.com/rewear/exchange/internal/domain/user"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("storage: record not found")
	// ErrAlreadyExists reports an insert with a taken identifier.
	ErrAlreadyExists = errors.New("storage: record already exists")
	// ErrDuplicateSwap reports a second active swap for the same
	// (requester, owner item) pair, surfaced by the partial unique index.
	ErrDuplicateSwap = errors.New("storage: active swap request already exists")
	// ErrInsufficientPoints reports a conditional debit that would drive a
	// balance negative.
	ErrInsufficientPoints = errors.New("storage: insufficient points")
	// ErrConflictingState reports a conditional write rejected because the
	// record is not in the required state.
	ErrConflictingState = errors.New("storage: conflicting record state")
)

// UserStore persists users and their points balances.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)

	// AdjustBalance applies delta to the user's balance in one conditional
	// write. It fails with ErrInsufficientPoints when the result would be
	// negative and never partially applies.
	AdjustBalance(ctx context.Context, id string, delta int64) (int64, error)

	// TransferPoints moves amount from one user to the other atomically:
	// either both balances change or neither does.
	TransferPoints(ctx context.Context, fromID, toID string, amount int64) error
}

// ItemStore persists items and owns their availability transitions.
type ItemStore interface {
	CreateItem(ctx context.Context, it item.Item) (item.Item, error)
	GetItem(ctx context.Context, id string) (item.Item, error)

	// DeleteAvailableItem removes a listing, but only while it is still
	// available and owned by ownerID; otherwise ErrConflictingState.
	DeleteAvailableItem(ctx context.Context, id, ownerID string) error

	// SwapAvailability compare-and-swaps the item's availability from one
	// state to another, recording claimedBy when the target state is
	// claimed. It returns false when the item is not currently in from;
	// exactly one of two racing callers succeeds.
	SwapAvailability(ctx context.Context, id string, from, to item.Availability, claimedBy string) (bool, error)

	// IncrementViews bumps the view counter. Monotonic, no CAS.
	IncrementViews(ctx context.Context, id string) error

	// AddLike records a like once per user; false when already liked.
	AddLike(ctx context.Context, itemID, userID string) (bool, error)
}

// SwapStore persists swap requests and redemption records.
type SwapStore interface {
	// CreateSwap inserts a request. At most one non-terminal request may
	// exist per (requester, owner item) pair; violations surface
	// ErrDuplicateSwap from the storage layer, never from a check-then-act.
	CreateSwap(ctx context.Context, r swap.Request) (swap.Request, error)
	GetSwap(ctx context.Context, id string) (swap.Request, error)

	// UpdateSwapStatus compare-and-swaps the request status. completedAt is
	// stamped when non-zero. False means the request was not in from, i.e.
	// another transition won.
	UpdateSwapStatus(ctx context.Context, id string, from, to swap.Status, completedAt time.Time) (bool, error)

	// SetOwnerResponse annotates the request with the owner's reply text.
	SetOwnerResponse(ctx context.Context, id, response string) error

	// ListExpiredPending returns pending requests whose expiry has passed.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]swap.Request, error)

	// ListSwapsForUser returns requests the user participates in, newest
	// first.
	ListSwapsForUser(ctx context.Context, userID string) ([]swap.Request, error)
}

// Store bundles the three contracts for implementations that back all of
// them, such as the in-memory store and the postgres store.
type Store interface {
	UserStore
	ItemStore
	SwapStore
}
