// Package postgres implements the storage contracts on PostgreSQL. Every
// invariant-bearing mutation is a single conditional statement or a
// transaction, so the engine gets per-record linearizability from the
// database rather than from in-process locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	"github.com/rewear/exchange/internal/domain/user"
	"github.com/rewear/exchange/internal/storage"
)

// uniqueViolation is the postgres error code raised by the partial unique
// index guarding active swap requests.
const uniqueViolation = "23505"

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// UserStore ------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, points_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, u.Email, u.PointsBalance, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, storage.ErrAlreadyExists
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, name, email, points_balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET points_balance = points_balance + $2, updated_at = now()
		WHERE id = $1 AND points_balance + $2 >= 0
		RETURNING points_balance
	`, id, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the user is missing or the conditional guard rejected the
		// debit; distinguish so callers can report the right outcome.
		if _, getErr := s.GetUser(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, storage.ErrInsufficientPoints
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) TransferPoints(ctx context.Context, fromID, toID string, amount int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET points_balance = points_balance - $2, updated_at = now()
		WHERE id = $1 AND points_balance >= $2
	`, fromID, amount)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, fromID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrInsufficientPoints
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users
		SET points_balance = points_balance + $2, updated_at = now()
		WHERE id = $1
	`, toID, amount)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}

	return tx.Commit()
}

// ItemStore ------------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, it item.Item) (item.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Availability == "" {
		it.Availability = item.StatusAvailable
	}
	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, owner_id, title, category, size, condition, brand, color,
			tags, points_value, availability, claimed_by, views, likes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, it.ID, it.OwnerID, it.Title, it.Category, it.Size, it.Condition, it.Brand, it.Color,
		pq.Array(it.Tags), it.PointsValue, it.Availability, it.ClaimedBy, it.Views, it.Likes,
		it.CreatedAt, it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return item.Item{}, storage.ErrAlreadyExists
		}
		return item.Item{}, err
	}
	return it, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (item.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, category, size, condition, brand, color,
			tags, points_value, availability, claimed_by, views, likes, created_at, updated_at
		FROM items
		WHERE id = $1
	`, id)
	return scanItem(row)
}

func (s *Store) DeleteAvailableItem(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM items
		WHERE id = $1 AND owner_id = $2 AND availability = $3
	`, id, ownerID, item.StatusAvailable)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflictingState
	}
	return nil
}

func (s *Store) SwapAvailability(ctx context.Context, id string, from, to item.Availability, claimedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET availability = $3,
			claimed_by = CASE WHEN $3 = 'claimed' THEN $4 ELSE '' END,
			updated_at = now()
		WHERE id = $1 AND availability = $2
	`, id, from, to, claimedBy)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET views = views + 1 WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AddLike(ctx context.Context, itemID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO item_likes (item_id, user_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (item_id, user_id) DO NOTHING
	`, itemID, userID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE items SET likes = likes + 1 WHERE id = $1`, itemID); err != nil {
		return true, err
	}
	return true, nil
}

// SwapStore ------------------------------------------------------------------

func (s *Store) CreateSwap(ctx context.Context, r swap.Request) (swap.Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swap_requests (id, requester_id, owner_id, requester_item_id, owner_item_id,
			points_spent, status, message, owner_response, created_at, updated_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.RequesterID, r.OwnerID, r.RequesterItemID, r.OwnerItemID,
		r.PointsSpent, r.Status, r.Message, r.OwnerResponse,
		r.CreatedAt, r.UpdatedAt, r.ExpiresAt, toNullTime(r.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return swap.Request{}, storage.ErrDuplicateSwap
		}
		return swap.Request{}, err
	}
	return r, nil
}

func (s *Store) GetSwap(ctx context.Context, id string) (swap.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, owner_id, requester_item_id, owner_item_id,
			points_spent, status, message, owner_response, created_at, updated_at, expires_at, completed_at
		FROM swap_requests
		WHERE id = $1
	`, id)
	return scanSwap(row)
}

func (s *Store) UpdateSwapStatus(ctx context.Context, id string, from, to swap.Status, completedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swap_requests
		SET status = $3,
			completed_at = COALESCE($4, completed_at),
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to, toNullTime(completedAt))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		if _, err := s.GetSwap(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) SetOwnerResponse(ctx context.Context, id, response string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swap_requests SET owner_response = $2, updated_at = now() WHERE id = $1
	`, id, response)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]swap.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, owner_id, requester_item_id, owner_item_id,
			points_spent, status, message, owner_response, created_at, updated_at, expires_at, completed_at
		FROM swap_requests
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, swap.StatusPending, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwaps(rows)
}

func (s *Store) ListSwapsForUser(ctx context.Context, userID string) ([]swap.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, owner_id, requester_item_id, owner_item_id,
			points_spent, status, message, owner_response, created_at, updated_at, expires_at, completed_at
		FROM swap_requests
		WHERE requester_id = $1 OR owner_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwaps(rows)
}

// Helpers ----------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (item.Item, error) {
	var (
		it   item.Item
		tags pq.StringArray
	)
	err := row.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Category, &it.Size, &it.Condition,
		&it.Brand, &it.Color, &tags, &it.PointsValue, &it.Availability, &it.ClaimedBy,
		&it.Views, &it.Likes, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{}, storage.ErrNotFound
	}
	if err != nil {
		return item.Item{}, err
	}
	it.Tags = []string(tags)
	return it, nil
}

func scanSwap(row rowScanner) (swap.Request, error) {
	var (
		r           swap.Request
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.RequesterID, &r.OwnerID, &r.RequesterItemID, &r.OwnerItemID,
		&r.PointsSpent, &r.Status, &r.Message, &r.OwnerResponse,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return swap.Request{}, storage.ErrNotFound
	}
	if err != nil {
		return swap.Request{}, err
	}
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time.UTC()
	}
	return r, nil
}

func scanSwaps(rows *sql.Rows) ([]swap.Request, error) {
	var result []swap.Request
	for rows.Next() {
		r, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
