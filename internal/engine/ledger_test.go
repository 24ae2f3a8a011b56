package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rewear/exchange/internal/domain/user"
	apperrors "github.com/rewear/exchange/internal/errors"
	"github.com/rewear/exchange/internal/storage"
)

func newLedgerFixture(t *testing.T) (*Ledger, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	return NewLedger(store, nil), store
}

func seedUser(t *testing.T, store *storage.Memory, id string, balance int64) {
	t.Helper()
	if _, err := store.CreateUser(context.Background(), user.User{ID: id, PointsBalance: balance}); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func TestLedger_DebitCredit(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 100)

	balance, err := ledger.Debit(context.Background(), "alice", 40)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 60 {
		t.Fatalf("balance after debit: got %d, want 60", balance)
	}

	balance, err = ledger.Credit(context.Background(), "alice", 15)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 75 {
		t.Fatalf("balance after credit: got %d, want 75", balance)
	}
}

func TestLedger_DebitInsufficientFunds(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 10)

	_, err := ledger.Debit(context.Background(), "alice", 11)
	if !apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}

	balance, err := ledger.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("failed debit must not change the balance: got %d", balance)
	}
}

func TestLedger_InvalidAmounts(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 100)
	seedUser(t, store, "bob", 0)

	if _, err := ledger.Debit(context.Background(), "alice", 0); !apperrors.HasCode(err, apperrors.CodeInvalidAmount) {
		t.Fatalf("zero debit: expected invalid_amount, got %v", err)
	}
	if _, err := ledger.Credit(context.Background(), "alice", -5); !apperrors.HasCode(err, apperrors.CodeInvalidAmount) {
		t.Fatalf("negative credit: expected invalid_amount, got %v", err)
	}
	if err := ledger.Transfer(context.Background(), "alice", "bob", 0); !apperrors.HasCode(err, apperrors.CodeInvalidAmount) {
		t.Fatalf("zero transfer: expected invalid_amount, got %v", err)
	}
	if err := ledger.Transfer(context.Background(), "alice", "alice", 10); !apperrors.HasCode(err, apperrors.CodeInvalidAmount) {
		t.Fatalf("self transfer: expected invalid_amount, got %v", err)
	}
}

func TestLedger_UnknownUser(t *testing.T) {
	ledger, _ := newLedgerFixture(t)

	if _, err := ledger.Balance(context.Background(), "ghost"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, err := ledger.Debit(context.Background(), "ghost", 5); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestLedger_TransferAtomic(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 100)
	seedUser(t, store, "bob", 20)

	if err := ledger.Transfer(context.Background(), "alice", "bob", 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBalance, _ := ledger.Balance(context.Background(), "alice")
	bobBalance, _ := ledger.Balance(context.Background(), "bob")
	if aliceBalance != 60 || bobBalance != 60 {
		t.Fatalf("after transfer: alice=%d bob=%d, want 60/60", aliceBalance, bobBalance)
	}

	// An overdraft transfer fails and leaves both sides untouched.
	err := ledger.Transfer(context.Background(), "alice", "bob", 61)
	if !apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}
	aliceBalance, _ = ledger.Balance(context.Background(), "alice")
	bobBalance, _ = ledger.Balance(context.Background(), "bob")
	if aliceBalance != 60 || bobBalance != 60 {
		t.Fatalf("failed transfer must not move points: alice=%d bob=%d", aliceBalance, bobBalance)
	}
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 50)

	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := ledger.Debit(context.Background(), "alice", 10); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 5 {
		t.Fatalf("a 50-point balance admits exactly 5 debits of 10, got %d", won)
	}

	balance, _ := ledger.Balance(context.Background(), "alice")
	if balance != 0 {
		t.Fatalf("final balance: got %d, want 0", balance)
	}
}

func TestLedger_Mint(t *testing.T) {
	ledger, store := newLedgerFixture(t)
	seedUser(t, store, "alice", 0)

	balance, err := ledger.Mint(context.Background(), "alice", 100)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance after mint: got %d, want 100", balance)
	}
}
