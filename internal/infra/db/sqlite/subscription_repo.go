package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SubscriptionRepository implements plans.SubscriptionLookup.
type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) PlanFor(ctx context.Context, userID string) (string, error) {
	var plan string
	err := r.db.QueryRowContext(ctx, `
SELECT plan FROM subscriptions
WHERE user_id = ? AND status = 'active'
ORDER BY created_at DESC, id DESC
LIMIT 1`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return plan, err
}

// Subscribe records an active subscription, e.g. from an admin tool.
func (r *SubscriptionRepository) Subscribe(ctx context.Context, userID, plan string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, created_at) VALUES (?, ?, 'active', ?)`,
		userID, plan, formatTime(at))
	return err
}
