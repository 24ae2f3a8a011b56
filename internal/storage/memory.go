package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewear/exchange/internal/domain/item"
	"github.com/rewear/exchange/internal/domain/swap"
	"github.com/rewear/exchange/internal/domain/user"
)

// Memory is a thread-safe in-memory persistence layer implementing the store
// contracts of this package. It is intended for tests and prototyping and
// mirrors the conditional-write semantics of the postgres store.
type Memory struct {
	mu    sync.Mutex
	users map[string]user.User
	items map[string]item.Item
	swaps map[string]swap.Request
	likes map[string]map[string]struct{}
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]user.User),
		items: make(map[string]item.Item),
		swaps: make(map[string]swap.Request),
		likes: make(map[string]map[string]struct{}),
	}
}

// UserStore implementation ----------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := m.users[u.ID]; exists {
		return user.User{}, ErrAlreadyExists
	}
	if u.PointsBalance < 0 {
		return user.User{}, ErrInsufficientPoints
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) AdjustBalance(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	if u.PointsBalance+delta < 0 {
		return 0, ErrInsufficientPoints
	}
	u.PointsBalance += delta
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u.PointsBalance, nil
}

func (m *Memory) TransferPoints(_ context.Context, fromID, toID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.users[fromID]
	if !ok {
		return ErrNotFound
	}
	to, ok := m.users[toID]
	if !ok {
		return ErrNotFound
	}
	if from.PointsBalance < amount {
		return ErrInsufficientPoints
	}

	now := time.Now().UTC()
	from.PointsBalance -= amount
	from.UpdatedAt = now
	to.PointsBalance += amount
	to.UpdatedAt = now
	m.users[fromID] = from
	m.users[toID] = to
	return nil
}

// ItemStore implementation ------------------------------------------------------

func (m *Memory) CreateItem(_ context.Context, it item.Item) (item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it.ID == "" {
		it.ID = uuid.NewString()
	} else if _, exists := m.items[it.ID]; exists {
		return item.Item{}, ErrAlreadyExists
	}
	if it.Availability == "" {
		it.Availability = item.StatusAvailable
	}

	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now
	it.Tags = append([]string(nil), it.Tags...)
	m.items[it.ID] = it
	return cloneItem(it), nil
}

func (m *Memory) GetItem(_ context.Context, id string) (item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return item.Item{}, ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *Memory) DeleteAvailableItem(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.OwnerID != ownerID || it.Availability != item.StatusAvailable {
		return ErrConflictingState
	}
	delete(m.items, id)
	delete(m.likes, id)
	return nil
}

func (m *Memory) SwapAvailability(_ context.Context, id string, from, to item.Availability, claimedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if it.Availability != from {
		return false, nil
	}

	it.Availability = to
	switch to {
	case item.StatusClaimed:
		it.ClaimedBy = claimedBy
	case item.StatusAvailable:
		it.ClaimedBy = ""
	}
	it.UpdatedAt = time.Now().UTC()
	m.items[id] = it
	return true, nil
}

func (m *Memory) IncrementViews(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Views++
	m.items[id] = it
	return nil
}

func (m *Memory) AddLike(_ context.Context, itemID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return false, ErrNotFound
	}
	set, ok := m.likes[itemID]
	if !ok {
		set = make(map[string]struct{})
		m.likes[itemID] = set
	}
	if _, liked := set[userID]; liked {
		return false, nil
	}
	set[userID] = struct{}{}
	it.Likes++
	m.items[itemID] = it
	return true, nil
}

// SwapStore implementation ------------------------------------------------------

func (m *Memory) CreateSwap(_ context.Context, r swap.Request) (swap.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := m.swaps[r.ID]; exists {
		return swap.Request{}, ErrAlreadyExists
	}

	// Same predicate the postgres partial unique index enforces.
	if !r.Status.Terminal() {
		for _, existing := range m.swaps {
			if existing.RequesterID == r.RequesterID &&
				existing.OwnerItemID == r.OwnerItemID &&
				!existing.Status.Terminal() {
				return swap.Request{}, ErrDuplicateSwap
			}
		}
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.swaps[r.ID] = r
	return r, nil
}

func (m *Memory) GetSwap(_ context.Context, id string) (swap.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.swaps[id]
	if !ok {
		return swap.Request{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) UpdateSwapStatus(_ context.Context, id string, from, to swap.Status, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.swaps[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}

	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if !completedAt.IsZero() {
		r.CompletedAt = completedAt.UTC()
	}
	m.swaps[id] = r
	return true, nil
}

func (m *Memory) SetOwnerResponse(_ context.Context, id, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.swaps[id]
	if !ok {
		return ErrNotFound
	}
	r.OwnerResponse = response
	r.UpdatedAt = time.Now().UTC()
	m.swaps[id] = r
	return nil
}

func (m *Memory) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]swap.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []swap.Request
	for _, r := range m.swaps {
		if r.Status == swap.StatusPending && r.ExpiresAt.Before(cutoff) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListSwapsForUser(_ context.Context, userID string) ([]swap.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []swap.Request
	for _, r := range m.swaps {
		if r.Party(userID) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func cloneItem(it item.Item) item.Item {
	it.Tags = append([]string(nil), it.Tags...)
	return it
}
