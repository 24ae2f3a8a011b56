package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	"github.com/rewear/exchange/internal/domain/user"
	"github.com/rewear/exchange/internal/platform/migrations"
	"github.com/rewear/exchange/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_AdjustBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE users`).
		WithArgs("alice", int64(-30)).
		WillReturnRows(sqlmock.NewRows([]string{"points_balance"}).AddRow(int64(70)))

	balance, err := store.AdjustBalance(context.Background(), "alice", -30)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if balance != 70 {
		t.Fatalf("balance: got %d, want 70", balance)
	}
	expectationsMet(t, mock)
}

func TestStore_AdjustBalanceGuardRejectsOverdraw(t *testing.T) {
	store, mock := newMockStore(t)

	// The conditional update matches no row, then the follow-up read finds
	// the user, so the failure is an overdraw, not a missing account.
	mock.ExpectQuery(`UPDATE users`).
		WithArgs("alice", int64(-200)).
		WillReturnRows(sqlmock.NewRows([]string{"points_balance"}))
	mock.ExpectQuery(`SELECT id, name, email, points_balance`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "email", "points_balance", "created_at", "updated_at"},
		).AddRow("alice", "Alice", "a@example.com", int64(70), time.Now(), time.Now()))

	_, err := store.AdjustBalance(context.Background(), "alice", -200)
	if err != storage.ErrInsufficientPoints {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_AdjustBalanceUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE users`).
		WithArgs("ghost", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"points_balance"}))
	mock.ExpectQuery(`SELECT id, name, email, points_balance`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "email", "points_balance", "created_at", "updated_at"}))

	_, err := store.AdjustBalance(context.Background(), "ghost", 5)
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_TransferPoints(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users`).
		WithArgs("alice", int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users`).
		WithArgs("bob", int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.TransferPoints(context.Background(), "alice", "bob", 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_TransferPointsInsufficient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users`).
		WithArgs("alice", int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.TransferPoints(context.Background(), "alice", "bob", 40)
	if err != storage.ErrInsufficientPoints {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_SwapAvailabilityCAS(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE items`).
		WithArgs("coat", item.StatusAvailable, item.StatusClaimed, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.SwapAvailability(context.Background(), "coat", item.StatusAvailable, item.StatusClaimed, "alice")
	if err != nil {
		t.Fatalf("swap availability: %v", err)
	}
	if !ok {
		t.Fatal("expected the transition to win")
	}
	expectationsMet(t, mock)
}

func TestStore_SwapAvailabilityLosesRace(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectExec(`UPDATE items`).
		WithArgs("coat", item.StatusAvailable, item.StatusClaimed, "carol").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, owner_id, title`).
		WithArgs("coat").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "title", "category", "size", "condition", "brand", "color",
			"tags", "points_value", "availability", "claimed_by", "views", "likes",
			"created_at", "updated_at",
		}).AddRow("coat", "bob", "wool coat", "outerwear", "M", "good", "", "",
			[]byte("{}"), int64(40), string(item.StatusClaimed), "alice",
			int64(0), int64(0), now, now))

	ok, err := store.SwapAvailability(context.Background(), "coat", item.StatusAvailable, item.StatusClaimed, "carol")
	if err != nil {
		t.Fatalf("swap availability: %v", err)
	}
	if ok {
		t.Fatal("the loser must observe ok=false")
	}
	expectationsMet(t, mock)
}

func TestStore_CreateSwapDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO swap_requests`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "swap_requests_active_uniq"})

	_, err := store.CreateSwap(context.Background(), swap.Request{
		RequesterID: "alice", OwnerID: "bob",
		RequesterItemID: "scarf", OwnerItemID: "jacket",
		Status: swap.StatusPending, ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != storage.ErrDuplicateSwap {
		t.Fatalf("expected ErrDuplicateSwap, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	alice, err := store.CreateUser(ctx, user.User{Name: "Alice", Email: "alice@example.com", PointsBalance: 100})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := store.CreateUser(ctx, user.User{Name: "Bob", Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	coat, err := store.CreateItem(ctx, item.Item{
		OwnerID: bob.ID, Title: "wool coat", Category: "outerwear",
		Size: "M", Condition: "good", Tags: []string{"winter"}, PointsValue: 40,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	ok, err := store.SwapAvailability(ctx, coat.ID, item.StatusAvailable, item.StatusClaimed, alice.ID)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := store.TransferPoints(ctx, alice.ID, bob.ID, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	record, err := store.CreateSwap(ctx, swap.Request{
		RequesterID: alice.ID, OwnerID: bob.ID, OwnerItemID: coat.ID,
		PointsSpent: 40, Status: swap.StatusCompleted,
		ExpiresAt: time.Now().UTC(), CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create swap record: %v", err)
	}

	swaps, err := store.ListSwapsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list swaps: %v", err)
	}
	if len(swaps) == 0 || swaps[0].ID != record.ID {
		t.Fatalf("dashboard missing redemption: %+v", swaps)
	}
}
