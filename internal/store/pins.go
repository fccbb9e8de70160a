package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pulse/internal/core"
)

// UpsertPinnedEvent stores a denormalized event pin for a user.
func (s *Store) UpsertPinnedEvent(ctx context.Context, pin *core.PinnedEvent) error {
	doc, err := json.Marshal(pin)
	if err != nil {
		return fmt.Errorf("failed to encode pin: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO pinned_events (user_id, event_id, event_start_time, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, event_id) DO UPDATE SET
			event_start_time = excluded.event_start_time,
			doc = excluded.doc`,
		pin.UserID, pin.EventID, encodeTime(pin.EventStartTime), string(doc))
	if err != nil {
		return fmt.Errorf("failed to pin event %s for %s: %w", pin.EventID, pin.UserID, err)
	}
	return nil
}

// DeletePinnedEvent removes an event pin; deleting an absent pin is a no-op.
func (s *Store) DeletePinnedEvent(ctx context.Context, userID, eventID string) error {
	_, err := s.exec(ctx, `DELETE FROM pinned_events WHERE user_id = ? AND event_id = ?`, userID, eventID)
	if err != nil {
		return fmt.Errorf("failed to unpin event %s for %s: %w", eventID, userID, err)
	}
	return nil
}

// GetPinnedEvent returns a single pin or core.ErrNotFound.
func (s *Store) GetPinnedEvent(ctx context.Context, userID, eventID string) (*core.PinnedEvent, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT doc FROM pinned_events WHERE user_id = ? AND event_id = ?`, userID, eventID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pin: %w", err)
	}
	var pin core.PinnedEvent
	if err := json.Unmarshal([]byte(doc), &pin); err != nil {
		return nil, fmt.Errorf("malformed stored pin: %w", err)
	}
	return &pin, nil
}

// ListPinnedEventsInWindow returns a user's direct pins whose event start
// falls inside the half-open window, ordered (eventStartTime ASC, eventId ASC).
func (s *Store) ListPinnedEventsInWindow(ctx context.Context, userID string, window core.Window) ([]core.PinnedEvent, error) {
	rows, err := s.query(ctx, `
		SELECT doc FROM pinned_events
		WHERE user_id = ? AND event_start_time >= ? AND event_start_time < ?
		ORDER BY event_start_time ASC, event_id ASC`,
		userID, encodeTime(window.Start), encodeTime(window.End))
	if err != nil {
		return nil, fmt.Errorf("failed to list pins for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []core.PinnedEvent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var pin core.PinnedEvent
		if err := json.Unmarshal([]byte(doc), &pin); err != nil {
			continue
		}
		out = append(out, pin)
	}
	return out, rows.Err()
}

// UpsertPinnedSeries stores a series pin for a user.
func (s *Store) UpsertPinnedSeries(ctx context.Context, pin *core.PinnedSeries) error {
	doc, err := json.Marshal(pin)
	if err != nil {
		return fmt.Errorf("failed to encode series pin: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO pinned_series (user_id, series_id, doc)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, series_id) DO UPDATE SET doc = excluded.doc`,
		pin.UserID, pin.SeriesID, string(doc))
	if err != nil {
		return fmt.Errorf("failed to pin series %s for %s: %w", pin.SeriesID, pin.UserID, err)
	}
	return nil
}

// DeletePinnedSeries removes a series pin.
func (s *Store) DeletePinnedSeries(ctx context.Context, userID, seriesID string) error {
	_, err := s.exec(ctx, `DELETE FROM pinned_series WHERE user_id = ? AND series_id = ?`, userID, seriesID)
	if err != nil {
		return fmt.Errorf("failed to unpin series %s for %s: %w", seriesID, userID, err)
	}
	return nil
}

// ListPinnedSeries returns all series pins for a user.
func (s *Store) ListPinnedSeries(ctx context.Context, userID string) ([]core.PinnedSeries, error) {
	rows, err := s.query(ctx, `SELECT doc FROM pinned_series WHERE user_id = ? ORDER BY series_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series pins for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []core.PinnedSeries
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var pin core.PinnedSeries
		if err := json.Unmarshal([]byte(doc), &pin); err != nil {
			continue
		}
		out = append(out, pin)
	}
	return out, rows.Err()
}
