// Package item defines the listed clothing item and its availability states.
package item

import "time"

// Availability tracks where an item sits in the exchange lifecycle.
type Availability string

const (
	// StatusAvailable means the item can be reserved or claimed.
	StatusAvailable Availability = "available"
	// StatusReserved means the item is held by an active swap negotiation.
	StatusReserved Availability = "reserved"
	// StatusClaimed means custody transferred irrevocably.
	StatusClaimed Availability = "claimed"
)

// Valid reports whether a is a known availability state.
func (a Availability) Valid() bool {
	switch a {
	case StatusAvailable, StatusReserved, StatusClaimed:
		return true
	}
	return false
}

// Item is a clothing listing. Availability is mutated exclusively through the
// availability store's compare-and-swap primitive; Views and Likes are plain
// monotonic counters outside the exchange invariants.
type Item struct {
	ID      string `db:"id"`
	OwnerID string `db:"owner_id"`

	Title     string   `db:"title"`
	Category  string   `db:"category"`
	Size      string   `db:"size"`
	Condition string   `db:"condition"`
	Brand     string   `db:"brand"`
	Color     string   `db:"color"`
	Tags      []string `db:"-"`

	// PointsValue is fixed at listing time and always positive.
	PointsValue int64 `db:"points_value"`

	Availability Availability `db:"availability"`
	// ClaimedBy holds the acquiring user once the item is claimed.
	ClaimedBy string `db:"claimed_by"`

	Views int64 `db:"views"`
	Likes int64 `db:"likes"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
