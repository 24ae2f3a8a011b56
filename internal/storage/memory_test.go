package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	"github.com/rewear/exchange/internal/domain/user"
)

func TestMemory_AdjustBalanceFloor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.CreateUser(ctx, user.User{ID: "alice", PointsBalance: 30}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	balance, err := m.AdjustBalance(ctx, "alice", -30)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance: got %d, want 0", balance)
	}

	if _, err := m.AdjustBalance(ctx, "alice", -1); err != ErrInsufficientPoints {
		t.Fatalf("overdraw: expected ErrInsufficientPoints, got %v", err)
	}
	if _, err := m.AdjustBalance(ctx, "ghost", 1); err != ErrNotFound {
		t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
	}
}

func TestMemory_TransferPoints(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateUser(ctx, user.User{ID: "alice", PointsBalance: 50})
	m.CreateUser(ctx, user.User{ID: "bob"})

	if err := m.TransferPoints(ctx, "alice", "bob", 60); err != ErrInsufficientPoints {
		t.Fatalf("overdraft transfer: expected ErrInsufficientPoints, got %v", err)
	}
	if err := m.TransferPoints(ctx, "alice", "bob", 50); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	alice, _ := m.GetUser(ctx, "alice")
	bob, _ := m.GetUser(ctx, "bob")
	if alice.PointsBalance != 0 || bob.PointsBalance != 50 {
		t.Fatalf("balances: alice=%d bob=%d", alice.PointsBalance, bob.PointsBalance)
	}
}

func TestMemory_SwapAvailabilityCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateItem(ctx, item.Item{ID: "coat", OwnerID: "bob", PointsValue: 40})

	ok, err := m.SwapAvailability(ctx, "coat", item.StatusAvailable, item.StatusClaimed, "alice")
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	it, _ := m.GetItem(ctx, "coat")
	if it.Availability != item.StatusClaimed || it.ClaimedBy != "alice" {
		t.Fatalf("item: %s/%s", it.Availability, it.ClaimedBy)
	}

	// The expected-state guard rejects a second transition.
	ok, err = m.SwapAvailability(ctx, "coat", item.StatusAvailable, item.StatusClaimed, "carol")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("claimed item must not be claimable again")
	}

	// Releasing back to available clears the claimant.
	ok, _ = m.SwapAvailability(ctx, "coat", item.StatusClaimed, item.StatusAvailable, "")
	if !ok {
		t.Fatal("release failed")
	}
	it, _ = m.GetItem(ctx, "coat")
	if it.ClaimedBy != "" {
		t.Fatalf("claimant not cleared: %q", it.ClaimedBy)
	}
}

func TestMemory_DeleteAvailableItem(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateItem(ctx, item.Item{ID: "coat", OwnerID: "bob", PointsValue: 40})

	if err := m.DeleteAvailableItem(ctx, "coat", "mallory"); err != ErrConflictingState {
		t.Fatalf("wrong owner: expected ErrConflictingState, got %v", err)
	}

	m.SwapAvailability(ctx, "coat", item.StatusAvailable, item.StatusReserved, "")
	if err := m.DeleteAvailableItem(ctx, "coat", "bob"); err != ErrConflictingState {
		t.Fatalf("reserved item: expected ErrConflictingState, got %v", err)
	}

	m.SwapAvailability(ctx, "coat", item.StatusReserved, item.StatusAvailable, "")
	if err := m.DeleteAvailableItem(ctx, "coat", "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetItem(ctx, "coat"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_DuplicateActiveSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := swap.Request{
		RequesterID: "alice", OwnerID: "bob",
		RequesterItemID: "scarf", OwnerItemID: "jacket",
		Status: swap.StatusPending, ExpiresAt: time.Now().Add(time.Hour),
	}
	first, err := m.CreateSwap(ctx, base)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := m.CreateSwap(ctx, base); err != ErrDuplicateSwap {
		t.Fatalf("active duplicate: expected ErrDuplicateSwap, got %v", err)
	}

	// Once the first is terminal, the same pair may be requested again.
	if _, err := m.UpdateSwapStatus(ctx, first.ID, swap.StatusPending, swap.StatusDeclined, time.Time{}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := m.CreateSwap(ctx, base); err != nil {
		t.Fatalf("retry after decline: %v", err)
	}
}

func TestMemory_UpdateSwapStatusCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	r, err := m.CreateSwap(ctx, swap.Request{
		RequesterID: "alice", OwnerID: "bob",
		RequesterItemID: "scarf", OwnerItemID: "jacket",
		Status: swap.StatusPending, ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := m.UpdateSwapStatus(ctx, r.ID, swap.StatusAccepted, swap.StatusCompleted, time.Time{})
	if err != nil {
		t.Fatalf("mismatched from: %v", err)
	}
	if ok {
		t.Fatal("transition from a state the swap is not in must fail")
	}

	completedAt := time.Now().UTC()
	if ok, _ = m.UpdateSwapStatus(ctx, r.ID, swap.StatusPending, swap.StatusAccepted, time.Time{}); !ok {
		t.Fatal("accept failed")
	}
	if ok, _ = m.UpdateSwapStatus(ctx, r.ID, swap.StatusAccepted, swap.StatusCompleted, completedAt); !ok {
		t.Fatal("complete failed")
	}

	after, _ := m.GetSwap(ctx, r.ID)
	if !after.CompletedAt.Equal(completedAt) {
		t.Fatalf("completed at: got %v, want %v", after.CompletedAt, completedAt)
	}
}

func TestMemory_ListExpiredPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, expiresAt := range []time.Time{
		now.Add(-2 * time.Hour), now.Add(-time.Hour), now.Add(time.Hour),
	} {
		_, err := m.CreateSwap(ctx, swap.Request{
			RequesterID: "alice", OwnerID: "bob",
			RequesterItemID: "scarf", OwnerItemID: string(rune('a' + i)),
			Status: swap.StatusPending, ExpiresAt: expiresAt,
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	stale, err := m.ListExpiredPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("stale count: got %d, want 2", len(stale))
	}
	if !stale[0].ExpiresAt.Before(stale[1].ExpiresAt) {
		t.Fatal("results must be ordered oldest first")
	}

	limited, _ := m.ListExpiredPending(ctx, now, 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied: got %d", len(limited))
	}
}

func TestMemory_Likes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.CreateItem(ctx, item.Item{ID: "coat", OwnerID: "bob", PointsValue: 40})

	liked, err := m.AddLike(ctx, "coat", "alice")
	if err != nil || !liked {
		t.Fatalf("first like: liked=%v err=%v", liked, err)
	}
	liked, err = m.AddLike(ctx, "coat", "alice")
	if err != nil {
		t.Fatalf("repeat like: %v", err)
	}
	if liked {
		t.Fatal("repeat like must not count")
	}
	if _, err := m.AddLike(ctx, "ghost", "alice"); err != ErrNotFound {
		t.Fatalf("unknown item: expected ErrNotFound, got %v", err)
	}

	it, _ := m.GetItem(ctx, "coat")
	if it.Likes != 1 {
		t.Fatalf("likes: got %d, want 1", it.Likes)
	}
}
