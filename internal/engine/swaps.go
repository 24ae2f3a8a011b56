package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	apperrors "github.com/rewear/exchange/internal/errors"
	"github.com/rewear/exchange/internal/metrics"
	"github.com/rewear/exchange/internal/storage"
	"github.com/rewear/exchange/pkg/logger"
)

// Decision is a party's answer to a pending swap request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
	DecisionCancel  Decision = "cancel"
)

// expireBatchSize bounds how many stale swaps one sweep pass transitions.
const expireBatchSize = 200

// StateMachine owns the swap-request lifecycle. It orchestrates the ledger
// and the availability manager so that every observable state satisfies the
// exchange invariants: no double-claimed items, no negative balances, no
// accepted swap referencing an item someone else holds.
type StateMachine struct {
	swaps  storage.SwapStore
	items  storage.ItemStore
	avail  *Availability
	ledger *Ledger

	ttl time.Duration
	now func() time.Time
	log *logger.Logger
}

// StateMachineOption customizes a StateMachine.
type StateMachineOption func(*StateMachine)

// WithClock overrides the time source, for tests and replay.
func WithClock(now func() time.Time) StateMachineOption {
	return func(sm *StateMachine) { sm.now = now }
}

// WithTTL overrides how long pending requests stay open.
func WithTTL(ttl time.Duration) StateMachineOption {
	return func(sm *StateMachine) {
		if ttl > 0 {
			sm.ttl = ttl
		}
	}
}

// NewStateMachine wires the lifecycle manager over its collaborators.
func NewStateMachine(swaps storage.SwapStore, items storage.ItemStore, avail *Availability, ledger *Ledger, log *logger.Logger, opts ...StateMachineOption) *StateMachine {
	if log == nil {
		log = logger.NewDefault("swaps")
	}
	sm := &StateMachine{
		swaps:  swaps,
		items:  items,
		avail:  avail,
		ledger: ledger,
		ttl:    swap.DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Create opens a pending item-for-item swap request and reserves both items
// so neither can be redeemed out from under the negotiation. The owner of the
// target item is snapshotted onto the request.
func (sm *StateMachine) Create(ctx context.Context, requesterID, requesterItemID, ownerItemID, message string) (swap.Request, error) {
	target, err := sm.items.GetItem(ctx, ownerItemID)
	if err != nil {
		return swap.Request{}, mapItemErr(err, ownerItemID)
	}
	offered, err := sm.items.GetItem(ctx, requesterItemID)
	if err != nil {
		return swap.Request{}, mapItemErr(err, requesterItemID)
	}

	if target.OwnerID == requesterID {
		return swap.Request{}, apperrors.SelfSwap("cannot request a swap for your own item")
	}
	if offered.OwnerID != requesterID {
		return swap.Request{}, apperrors.NotAuthorized("offered item is not owned by the requester")
	}

	// Reservations are the authoritative availability check; the CAS below
	// decides races, these reads only produce friendlier errors.
	if target.Availability != item.StatusAvailable {
		return swap.Request{}, apperrors.ItemUnavailable(fmt.Sprintf("item %s is %s", ownerItemID, target.Availability))
	}
	if offered.Availability != item.StatusAvailable {
		return swap.Request{}, apperrors.ItemUnavailable(fmt.Sprintf("item %s is %s", requesterItemID, offered.Availability))
	}

	ok, err := sm.avail.MarkReserved(ctx, requesterItemID)
	if err != nil {
		return swap.Request{}, err
	}
	if !ok {
		return swap.Request{}, apperrors.ItemUnavailable(fmt.Sprintf("item %s was reserved concurrently", requesterItemID))
	}

	ok, err = sm.avail.MarkReserved(ctx, ownerItemID)
	if err != nil {
		sm.releaseQuietly(ctx, requesterItemID)
		return swap.Request{}, err
	}
	if !ok {
		sm.releaseQuietly(ctx, requesterItemID)
		return swap.Request{}, apperrors.ItemUnavailable(fmt.Sprintf("item %s was reserved concurrently", ownerItemID))
	}

	now := sm.now()
	created, err := sm.swaps.CreateSwap(ctx, swap.Request{
		RequesterID:     requesterID,
		OwnerID:         target.OwnerID,
		RequesterItemID: requesterItemID,
		OwnerItemID:     ownerItemID,
		Status:          swap.StatusPending,
		Message:         message,
		ExpiresAt:       now.Add(sm.ttl),
	})
	if err != nil {
		sm.releaseQuietly(ctx, requesterItemID)
		sm.releaseQuietly(ctx, ownerItemID)
		if errors.Is(err, storage.ErrDuplicateSwap) {
			return swap.Request{}, apperrors.DuplicateRequest("an active swap request for this item already exists")
		}
		return swap.Request{}, apperrors.Internal("persist swap request", err)
	}

	metrics.RecordSwapCreated()
	sm.log.WithFields(map[string]interface{}{
		"swap": created.ID, "requester": requesterID, "owner": created.OwnerID,
	}).Info("swap request created")
	return created, nil
}

// Respond applies the owner's accept/decline or either party's cancel to a
// pending request. Decline and cancel release both reservations; accept keeps
// them until completion.
func (sm *StateMachine) Respond(ctx context.Context, swapID, responderID string, decision Decision, response string) (swap.Request, error) {
	r, err := sm.swaps.GetSwap(ctx, swapID)
	if err != nil {
		return swap.Request{}, mapSwapErr(err, swapID)
	}

	var from, to swap.Status
	switch decision {
	case DecisionAccept:
		if responderID != r.OwnerID {
			return swap.Request{}, apperrors.NotAuthorized("only the item owner may accept")
		}
		from, to = swap.StatusPending, swap.StatusAccepted
	case DecisionDecline:
		if responderID != r.OwnerID {
			return swap.Request{}, apperrors.NotAuthorized("only the item owner may decline")
		}
		from, to = swap.StatusPending, swap.StatusDeclined
	case DecisionCancel:
		if !r.Party(responderID) {
			return swap.Request{}, apperrors.NotAuthorized("only a swap party may cancel")
		}
		if r.Status != swap.StatusPending && r.Status != swap.StatusAccepted {
			return swap.Request{}, apperrors.InvalidTransition(fmt.Sprintf("cannot cancel a %s swap", r.Status))
		}
		from, to = r.Status, swap.StatusCancelled
	default:
		return swap.Request{}, apperrors.InvalidTransition(fmt.Sprintf("unknown decision %q", decision))
	}

	if decision == DecisionAccept && sm.now().After(r.ExpiresAt) {
		// A stale request must never become accepted, even if the sweeper
		// has not visited it yet.
		return swap.Request{}, apperrors.InvalidTransition("swap request has expired")
	}

	ok, err := sm.swaps.UpdateSwapStatus(ctx, swapID, from, to, time.Time{})
	if err != nil {
		return swap.Request{}, mapSwapErr(err, swapID)
	}
	if !ok {
		return swap.Request{}, apperrors.InvalidTransition(fmt.Sprintf("swap is no longer %s", from))
	}

	if to == swap.StatusDeclined || to == swap.StatusCancelled {
		sm.releaseQuietly(ctx, r.RequesterItemID)
		sm.releaseQuietly(ctx, r.OwnerItemID)
	}

	if response != "" && responderID == r.OwnerID {
		if err := sm.swaps.SetOwnerResponse(ctx, swapID, response); err != nil {
			sm.log.WithError(err).WithField("swap", swapID).Warn("record owner response failed")
		}
	}

	metrics.RecordSwapTransition(string(to))
	updated, err := sm.swaps.GetSwap(ctx, swapID)
	if err != nil {
		return swap.Request{}, mapSwapErr(err, swapID)
	}
	return updated, nil
}

// Complete finalizes an accepted swap: the status transition is the
// linearization point, then both items are claimed out of their
// reservations. No points move in an item-for-item swap.
func (sm *StateMachine) Complete(ctx context.Context, swapID, actorID string) (swap.Request, error) {
	r, err := sm.swaps.GetSwap(ctx, swapID)
	if err != nil {
		return swap.Request{}, mapSwapErr(err, swapID)
	}
	if !r.Party(actorID) {
		return swap.Request{}, apperrors.NotAuthorized("only a swap party may complete")
	}

	completedAt := sm.now()
	ok, err := sm.swaps.UpdateSwapStatus(ctx, swapID, swap.StatusAccepted, swap.StatusCompleted, completedAt)
	if err != nil {
		return swap.Request{}, mapSwapErr(err, swapID)
	}
	if !ok {
		return swap.Request{}, apperrors.InvalidTransition(fmt.Sprintf("swap is not accepted (currently %s)", r.Status))
	}

	claimed, err := sm.avail.ClaimReserved(ctx, r.OwnerItemID, r.RequesterID)
	if err != nil || !claimed {
		sm.revertCompletion(ctx, swapID, "")
		return swap.Request{}, apperrors.Internal(fmt.Sprintf("claim of item %s failed during completion", r.OwnerItemID), err)
	}

	claimed, err = sm.avail.ClaimReserved(ctx, r.RequesterItemID, r.OwnerID)
	if err != nil || !claimed {
		sm.revertCompletion(ctx, swapID, r.OwnerItemID)
		return swap.Request{}, apperrors.Internal(fmt.Sprintf("claim of item %s failed during completion", r.RequesterItemID), err)
	}

	metrics.RecordSwapTransition(string(swap.StatusCompleted))
	sm.log.WithField("swap", swapID).Info("swap completed")

	r.Status = swap.StatusCompleted
	r.CompletedAt = completedAt
	return r, nil
}

// Redeem acquires an available item by spending points. The claim is the
// commit point for the race: the loser's ledger is never touched. A transfer
// failure after the claim triggers an explicit compensating release.
func (sm *StateMachine) Redeem(ctx context.Context, itemID, redeemerID string) (swap.Request, error) {
	it, err := sm.items.GetItem(ctx, itemID)
	if err != nil {
		return swap.Request{}, mapItemErr(err, itemID)
	}
	if it.OwnerID == redeemerID {
		return swap.Request{}, apperrors.SelfSwap("cannot redeem your own item")
	}

	balance, err := sm.ledger.Balance(ctx, redeemerID)
	if err != nil {
		return swap.Request{}, err
	}
	if balance < it.PointsValue {
		metrics.RecordRedemption("insufficient_funds")
		return swap.Request{}, apperrors.InsufficientFunds(fmt.Sprintf("item costs %d points, balance is %d", it.PointsValue, balance))
	}

	ok, err := sm.avail.TryClaim(ctx, itemID, redeemerID)
	if err != nil {
		return swap.Request{}, err
	}
	if !ok {
		metrics.RecordRedemption("conflict")
		return swap.Request{}, apperrors.Conflict(fmt.Sprintf("item %s was claimed concurrently", itemID))
	}

	if err := sm.ledger.Transfer(ctx, redeemerID, it.OwnerID, it.PointsValue); err != nil {
		sm.releaseQuietly(ctx, itemID)
		if apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
			// The pre-check passed but a concurrent spend drained the
			// balance before the conditional debit ran.
			metrics.RecordRedemption("insufficient_funds")
			return swap.Request{}, err
		}
		metrics.RecordRedemption("error")
		return swap.Request{}, apperrors.Internal("points transfer failed after claim; item released", err)
	}

	now := sm.now()
	record, err := sm.swaps.CreateSwap(ctx, swap.Request{
		RequesterID: redeemerID,
		OwnerID:     it.OwnerID,
		OwnerItemID: itemID,
		PointsSpent: it.PointsValue,
		Status:      swap.StatusCompleted,
		ExpiresAt:   now,
		CompletedAt: now,
	})
	if err != nil {
		if terr := sm.ledger.Transfer(ctx, it.OwnerID, redeemerID, it.PointsValue); terr != nil {
			sm.log.WithError(terr).WithField("item", itemID).Error("compensating transfer failed; manual reconciliation required")
		}
		sm.releaseQuietly(ctx, itemID)
		metrics.RecordRedemption("error")
		return swap.Request{}, apperrors.Internal("persist redemption record", err)
	}

	metrics.RecordRedemption("completed")
	sm.log.WithFields(map[string]interface{}{
		"item": itemID, "redeemer": redeemerID, "points": it.PointsValue,
	}).Info("item redeemed")
	return record, nil
}

// ExpireStale transitions pending requests past their expiry to expired and
// releases both reservations. It returns how many requests it expired.
func (sm *StateMachine) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := sm.swaps.ListExpiredPending(ctx, now, expireBatchSize)
	if err != nil {
		return 0, apperrors.Internal("list expired swaps", err)
	}

	expired := 0
	for _, r := range stale {
		ok, err := sm.swaps.UpdateSwapStatus(ctx, r.ID, swap.StatusPending, swap.StatusExpired, time.Time{})
		if err != nil {
			sm.log.WithError(err).WithField("swap", r.ID).Warn("expire transition failed")
			continue
		}
		if !ok {
			// Someone responded between the listing and the CAS.
			continue
		}
		sm.releaseQuietly(ctx, r.RequesterItemID)
		sm.releaseQuietly(ctx, r.OwnerItemID)
		metrics.RecordSwapTransition(string(swap.StatusExpired))
		expired++
	}

	metrics.RecordExpired(expired)
	return expired, nil
}

// revertCompletion is the compensating path for a failed completion claim:
// any already-claimed item goes back to reserved and the status returns to
// accepted so the swap can be retried or cancelled.
func (sm *StateMachine) revertCompletion(ctx context.Context, swapID, claimedItemID string) {
	if claimedItemID != "" {
		if _, err := sm.avail.Unclaim(ctx, claimedItemID); err != nil {
			sm.log.WithError(err).WithField("item", claimedItemID).Error("unclaim during completion revert failed")
		}
	}
	if _, err := sm.swaps.UpdateSwapStatus(ctx, swapID, swap.StatusCompleted, swap.StatusAccepted, time.Time{}); err != nil {
		sm.log.WithError(err).WithField("swap", swapID).Error("status revert during completion failed")
	}
}

func (sm *StateMachine) releaseQuietly(ctx context.Context, itemID string) {
	if itemID == "" {
		return
	}
	if err := sm.avail.Release(ctx, itemID); err != nil {
		sm.log.WithError(err).WithField("item", itemID).Error("release failed; item may need manual reconciliation")
	}
}

func mapSwapErr(err error, swapID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(fmt.Sprintf("swap %s not found", swapID))
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return apperrors.Internal("swap storage failure", err)
}
