package store

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/core"
)

// MarkBundleSeen records that a user has seen a category at the given
// version and refreshes lastSeenAt.
func (s *Store) MarkBundleSeen(ctx context.Context, userID, categoryID string, version int, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO category_bundle_state (user_id, category_id, last_seen_version, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			last_seen_version = excluded.last_seen_version,
			last_seen_at = excluded.last_seen_at`,
		userID, categoryID, version, encodeTime(now))
	if err != nil {
		return fmt.Errorf("failed to mark bundle seen for %s/%s: %w", userID, categoryID, err)
	}
	return nil
}

// GetBundleStates returns the bundle state for each requested category the
// user has seen; unseen categories are absent from the result.
func (s *Store) GetBundleStates(ctx context.Context, userID string, categoryIDs []string) (map[string]core.UserCategoryBundleState, error) {
	out := make(map[string]core.UserCategoryBundleState, len(categoryIDs))
	for _, categoryID := range categoryIDs {
		var (
			version int
			seenAt  string
		)
		err := s.queryRow(ctx, `
			SELECT last_seen_version, last_seen_at FROM category_bundle_state
			WHERE user_id = ? AND category_id = ?`, userID, categoryID,
		).Scan(&version, &seenAt)
		if err != nil {
			continue
		}
		lastSeenAt, err := decodeTime(seenAt)
		if err != nil {
			continue
		}
		out[categoryID] = core.UserCategoryBundleState{
			UserID:          userID,
			CategoryID:      categoryID,
			LastSeenVersion: version,
			LastSeenAt:      lastSeenAt,
		}
	}
	return out, nil
}
