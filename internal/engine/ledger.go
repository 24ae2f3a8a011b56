package engine

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/rewear/exchange/internal/errors"
	"github.com/rewear/exchange/internal/metrics"
	"github.com/rewear/exchange/internal/storage"
	"github.com/rewear/exchange/pkg/logger"
)

// Ledger owns points balances. All balance mutations in the system flow
// through it; the underlying store applies each one as a single conditional
// write, so a debit either fully applies or not at all.
type Ledger struct {
	users storage.UserStore
	log   *logger.Logger
}

// NewLedger creates a ledger over the given user store.
func NewLedger(users storage.UserStore, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Ledger{users: users, log: log}
}

// Balance returns the user's current points balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return 0, mapLedgerErr(err, userID)
	}
	return u.PointsBalance, nil
}

// Debit removes amount from the user's balance. It fails with
// insufficient_funds when amount exceeds the current balance and never
// partially applies.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperrors.InvalidAmount("debit amount must be positive")
	}
	balance, err := l.users.AdjustBalance(ctx, userID, -amount)
	if err != nil {
		return 0, mapLedgerErr(err, userID)
	}
	return balance, nil
}

// Credit adds amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperrors.InvalidAmount("credit amount must be positive")
	}
	balance, err := l.users.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return 0, mapLedgerErr(err, userID)
	}
	return balance, nil
}

// Transfer moves amount between users as one serialized storage operation:
// either both balances change or neither does.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidAmount("transfer amount must be positive")
	}
	if fromID == toID {
		return apperrors.InvalidAmount("transfer requires two distinct users")
	}
	if err := l.users.TransferPoints(ctx, fromID, toID, amount); err != nil {
		return mapLedgerErr(err, fromID)
	}
	metrics.RecordTransfer(amount)
	l.log.WithFields(map[string]interface{}{
		"from": fromID, "to": toID, "amount": amount,
	}).Debug("points transferred")
	return nil
}

// Mint credits points that were not transferred from another user. The signup
// bonus is the only sanctioned mint; everything else must conserve points.
func (l *Ledger) Mint(ctx context.Context, userID string, amount int64) (int64, error) {
	balance, err := l.Credit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	metrics.RecordMint(amount)
	return balance, nil
}

func mapLedgerErr(err error, userID string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound(fmt.Sprintf("user %s not found", userID))
	case errors.Is(err, storage.ErrInsufficientPoints):
		return apperrors.InsufficientFunds("balance too low")
	default:
		return apperrors.Internal("ledger storage failure", err)
	}
}
