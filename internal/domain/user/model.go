package user

import "time"

// User represents a marketplace member. PointsBalance is mutated exclusively
// through the ledger and never goes negative.
type User struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Email         string `db:"email"`
	PointsBalance int64  `db:"points_balance"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
