package store

import (
	"context"
	"fmt"
)

// PushSubscription is one browser push endpoint for a user. A user can hold
// several (one per device).
type PushSubscription struct {
	ID       int    `json:"id"`
	UserID   int    `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// SavePushSubscription upserts by endpoint so re-subscribing from the same
// browser replaces the old keys and clears any revocation.
func (s *Store) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *Store) PushSubscriptionsForUser(ctx context.Context, userID int) ([]*PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth FROM push_subscriptions
		WHERE user_id = ? AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*PushSubscription
	for rows.Next() {
		sub := &PushSubscription{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RevokePushSubscription marks the endpoint dead. Used both by explicit
// unsubscribe and when the push service returns 404/410 for it.
func (s *Store) RevokePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP WHERE endpoint = ?
	`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}
