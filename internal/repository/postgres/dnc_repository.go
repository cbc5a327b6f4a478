package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DNCRepository answers do-not-call lookups against the shared
// suppression list.
type DNCRepository struct {
	db *sqlx.DB
}

// NewDNCRepository constructs the repository.
func NewDNCRepository(db *sqlx.DB) *DNCRepository {
	return &DNCRepository{db: db}
}

// Contains reports whether the number is on the do-not-call list.
func (r *DNCRepository) Contains(ctx context.Context, phoneNumber string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowxContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM do_not_call WHERE phone_number = $1
	)`, phoneNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("dnc: lookup: %w", err)
	}
	return exists, nil
}
