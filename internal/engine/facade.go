// Package engine implements the exchange engine: the points ledger, item
// availability, the swap-request lifecycle, the expiration sweeper, and the
// facade external collaborators call. HTTP handlers, search, auth and UI
// live outside this package entirely; they hand the engine authenticated
// actor identities and validated identifiers and receive typed results.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewear/exchange/internal/counters"
	"github.com/rewear/exchange/internal/domain/swap"
	apperrors "github.com/rewear/exchange/internal/errors"
	"github.com/rewear/exchange/internal/storage"
	"github.com/rewear/exchange/pkg/logger"
)

// DefaultSignupBonus is the one-time welcome grant, the only points mint in
// the system.
const DefaultSignupBonus int64 = 100

// Config wires an Engine.
type Config struct {
	Store    storage.Store
	Counters counters.Counters
	Logger   *logger.Logger

	// SignupBonus overrides the welcome grant; zero means the default.
	SignupBonus int64
	// Options are passed through to the state machine.
	Options []StateMachineOption
}

// Engine is the single entry point for the surrounding API layer. It owns
// request-scoped atomicity: every operation either fully applies or leaves
// all invariants intact.
type Engine struct {
	ledger   *Ledger
	avail    *Availability
	swaps    *StateMachine
	store    storage.Store
	counters counters.Counters
	bonus    int64
	log      *logger.Logger
}

// New builds the engine and its internal collaborators.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("engine")
	}
	cnt := cfg.Counters
	if cnt == nil {
		cnt = counters.NewStoreCounters(cfg.Store)
	}
	bonus := cfg.SignupBonus
	if bonus <= 0 {
		bonus = DefaultSignupBonus
	}

	ledger := NewLedger(cfg.Store, log.WithField("component", "ledger"))
	avail := NewAvailability(cfg.Store, log.WithField("component", "availability"))
	sm := NewStateMachine(cfg.Store, cfg.Store, avail, ledger, log.WithField("component", "swaps"), cfg.Options...)

	return &Engine{
		ledger:   ledger,
		avail:    avail,
		swaps:    sm,
		store:    cfg.Store,
		counters: cnt,
		bonus:    bonus,
		log:      log,
	}
}

// StateMachine exposes the lifecycle manager, primarily for the sweeper.
func (e *Engine) StateMachine() *StateMachine { return e.swaps }

// Ledger exposes the points ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// CreateSwapCommand describes a new item-for-item negotiation.
type CreateSwapCommand struct {
	RequesterID     string
	RequesterItemID string
	OwnerItemID     string
	Message         string
}

// CreateSwap opens a pending swap request and reserves both items.
func (e *Engine) CreateSwap(ctx context.Context, cmd CreateSwapCommand) (swap.Request, error) {
	return e.swaps.Create(ctx, cmd.RequesterID, cmd.RequesterItemID, cmd.OwnerItemID, cmd.Message)
}

// RespondCommand carries a party's answer to a pending request.
type RespondCommand struct {
	SwapID      string
	ResponderID string
	Decision    Decision
	Response    string
}

// RespondToSwap accepts, declines or cancels a swap request.
func (e *Engine) RespondToSwap(ctx context.Context, cmd RespondCommand) (swap.Request, error) {
	return e.swaps.Respond(ctx, cmd.SwapID, cmd.ResponderID, cmd.Decision, cmd.Response)
}

// CompleteSwap finalizes an accepted swap for either party.
func (e *Engine) CompleteSwap(ctx context.Context, swapID, actorID string) (swap.Request, error) {
	return e.swaps.Complete(ctx, swapID, actorID)
}

// RedeemItem spends the redeemer's points on an available item.
func (e *Engine) RedeemItem(ctx context.Context, itemID, redeemerID string) (swap.Request, error) {
	return e.swaps.Redeem(ctx, itemID, redeemerID)
}

// GrantSignupBonus mints the one-time welcome points for a new user.
func (e *Engine) GrantSignupBonus(ctx context.Context, userID string) (int64, error) {
	return e.ledger.Mint(ctx, userID, e.bonus)
}

// Balance returns the user's points balance.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	return e.ledger.Balance(ctx, userID)
}

// SwapsForUser lists the requests a user participates in, newest first.
func (e *Engine) SwapsForUser(ctx context.Context, userID string) ([]swap.Request, error) {
	result, err := e.store.ListSwapsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("list swaps", err)
	}
	return result, nil
}

// RemoveListing deletes an item, permitted only while it is still available
// and owned by ownerID.
func (e *Engine) RemoveListing(ctx context.Context, itemID, ownerID string) error {
	err := e.store.DeleteAvailableItem(ctx, itemID, ownerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound(fmt.Sprintf("item %s not found", itemID))
	case errors.Is(err, storage.ErrConflictingState):
		return apperrors.ItemUnavailable("only available listings can be removed")
	default:
		return apperrors.Internal("remove listing", err)
	}
}

// RecordView bumps an item's view counter. Counters sit outside the exchange
// invariants; failures are logged, not propagated to the viewer.
func (e *Engine) RecordView(ctx context.Context, itemID string) {
	if err := e.counters.RecordView(ctx, itemID); err != nil {
		e.log.WithError(err).WithField("item", itemID).Warn("record view failed")
	}
}

// LikeItem records a like once per user; false when already liked.
func (e *Engine) LikeItem(ctx context.Context, itemID, userID string) (bool, error) {
	liked, err := e.counters.Like(ctx, itemID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, apperrors.NotFound(fmt.Sprintf("item %s not found", itemID))
		}
		return false, apperrors.Internal("record like", err)
	}
	return liked, nil
}
