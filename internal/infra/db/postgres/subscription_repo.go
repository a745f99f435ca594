package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// SubscriptionRepository implements plans.SubscriptionLookup.
type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) PlanFor(ctx context.Context, userID string) (string, error) {
	const q = `
SELECT plan FROM subscriptions
WHERE user_id = $1 AND status = 'active'
ORDER BY created_at DESC, id DESC
LIMIT 1`
	var plan string
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return plan, err
}
