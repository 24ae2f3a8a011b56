// Package swap defines swap requests and their lifecycle.
package swap

import "time"

// Status is a swap request lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
)

// DefaultTTL is how long a pending swap stays open before the sweeper
// expires it.
const DefaultTTL = 7 * 24 * time.Hour

// transitions is the full lifecycle table. Statuses absent from the map are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Request is a swap negotiation or a points redemption. OwnerID is the target
// item's owner snapshotted at creation; it does not follow later ownership
// changes. A redemption has no RequesterItemID, records PointsSpent, and is
// created directly in StatusCompleted.
type Request struct {
	ID          string `db:"id"`
	RequesterID string `db:"requester_id"`
	OwnerID     string `db:"owner_id"`

	// RequesterItemID is empty for pure points redemptions.
	RequesterItemID string `db:"requester_item_id"`
	OwnerItemID     string `db:"owner_item_id"`

	// PointsSpent is non-zero only for redemptions.
	PointsSpent int64 `db:"points_spent"`

	Status        Status `db:"status"`
	Message       string `db:"message"`
	OwnerResponse string `db:"owner_response"`

	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	ExpiresAt   time.Time `db:"expires_at"`
	CompletedAt time.Time `db:"completed_at"`
}

// Redemption reports whether the request acquired the item with points
// instead of a counter-offered item.
func (r Request) Redemption() bool {
	return r.RequesterItemID == "" && r.PointsSpent > 0
}

// Party reports whether userID is the requester or the snapshotted owner.
func (r Request) Party(userID string) bool {
	return userID == r.RequesterID || userID == r.OwnerID
}
