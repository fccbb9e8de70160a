package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pulse/internal/core"
)

// InsertInteractions writes a batch of interactions atomically. Callers are
// expected to have validated and capped the batch already.
func (s *Store) InsertInteractions(ctx context.Context, interactions []core.UserInteraction) error {
	if len(interactions) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, in := range interactions {
			doc, err := json.Marshal(&in)
			if err != nil {
				return fmt.Errorf("failed to encode interaction %s: %w", in.ID, err)
			}
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO interactions (id, user_id, ts, doc)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO NOTHING`),
				in.ID, in.UserID, encodeTime(in.Timestamp), string(doc))
			if err != nil {
				return fmt.Errorf("failed to insert interaction %s: %w", in.ID, err)
			}
		}
		return nil
	})
}

// ListRecentInteractions returns a user's interactions newest first.
func (s *Store) ListRecentInteractions(ctx context.Context, userID string, limit int) ([]core.UserInteraction, error) {
	rows, err := s.query(ctx, `
		SELECT doc FROM interactions
		WHERE user_id = ?
		ORDER BY ts DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []core.UserInteraction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var in core.UserInteraction
		if err := json.Unmarshal([]byte(doc), &in); err != nil {
			continue
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// CountInteractions returns how many interactions a user has recorded.
func (s *Store) CountInteractions(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM interactions WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions for %s: %w", userID, err)
	}
	return count, nil
}
