package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pulse/internal/core"
)

// GetEvent returns the stored event or core.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*core.CanonicalEvent, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT doc FROM events WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event %s: %w", id, err)
	}

	var event core.CanonicalEvent
	if err := json.Unmarshal([]byte(doc), &event); err != nil {
		return nil, fmt.Errorf("malformed stored event %s: %w", id, err)
	}
	return &event, nil
}

// SaveEvent writes the full event document and reports whether it was
// created. Marshaling through omitempty JSON strips absent fields, so a
// rewrite never resurrects stale optional values. created/updated is decided
// from the pre-read snapshot the orchestrator already holds; the write
// itself is idempotent on the whole document.
func (s *Store) SaveEvent(ctx context.Context, event *core.CanonicalEvent, rawSnapshot map[string]any, existing *core.CanonicalEvent) (created bool, err error) {
	if event.ID == "" {
		event.ID = core.EventID(event.Source.SourceID, event.Source.SourceEventID)
	}
	if strings.TrimSpace(event.Title) == "" {
		event.Title = core.UntitledEvent
	}
	event.Tags = normalizeEventTags(event.Tags)

	doc, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	raw := ""
	if rawSnapshot != nil {
		if b, err := json.Marshal(rawSnapshot); err == nil {
			raw = string(b)
		}
	}

	_, err = s.exec(ctx, `
		INSERT INTO events (id, source_id, start_time, last_updated_at, doc, raw)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id = excluded.source_id,
			start_time = excluded.start_time,
			last_updated_at = excluded.last_updated_at,
			doc = excluded.doc,
			raw = excluded.raw`,
		event.ID, event.Source.SourceID, encodeTime(event.StartTime),
		encodeTime(event.LastUpdatedAt), string(doc), raw)
	if err != nil {
		return false, fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return existing == nil, nil
}

// TouchEvent refreshes only the fetch bookkeeping of an unchanged event.
func (s *Store) TouchEvent(ctx context.Context, id string, fetchedAt time.Time) error {
	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	event.LastFetchedAt = fetchedAt.UTC()

	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", id, err)
	}
	_, err = s.exec(ctx, `UPDATE events SET doc = ? WHERE id = ?`, string(doc), id)
	if err != nil {
		return fmt.Errorf("failed to touch event %s: %w", id, err)
	}
	return nil
}

// UpdateEventSeriesInfo merge-patches the series linkage onto an event
// after series attach and category assignment.
func (s *Store) UpdateEventSeriesInfo(ctx context.Context, eventID, seriesID, categoryID, categoryName string) error {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	event.SeriesID = seriesID
	event.SeriesCategoryID = categoryID
	event.SeriesCategoryName = categoryName

	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", eventID, err)
	}
	_, err = s.exec(ctx, `UPDATE events SET doc = ? WHERE id = ?`, string(doc), eventID)
	if err != nil {
		return fmt.Errorf("failed to patch event %s: %w", eventID, err)
	}
	return nil
}

// ListEventsInWindow returns events whose startTime falls inside the
// half-open window, ordered (startTime ASC, id ASC).
func (s *Store) ListEventsInWindow(ctx context.Context, window core.Window) ([]core.CanonicalEvent, error) {
	rows, err := s.query(ctx, `
		SELECT doc FROM events
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time ASC, id ASC`,
		encodeTime(window.Start), encodeTime(window.End))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []core.CanonicalEvent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var event core.CanonicalEvent
		if err := json.Unmarshal([]byte(doc), &event); err != nil {
			// Malformed documents degrade to a skip, not an aborted read.
			continue
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventsByIDs loads events by id, silently skipping missing ones.
// Reads are chunked to keep parameter lists bounded.
func (s *Store) GetEventsByIDs(ctx context.Context, ids []string) (map[string]*core.CanonicalEvent, error) {
	const chunkSize = 10
	out := make(map[string]*core.CanonicalEvent, len(ids))

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.query(ctx, `SELECT doc FROM events WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load events: %w", err)
		}
		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				rows.Close()
				return nil, err
			}
			var event core.CanonicalEvent
			if err := json.Unmarshal([]byte(doc), &event); err != nil {
				continue
			}
			out[event.ID] = &event
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// normalizeEventTags lower-cases, trims, deduplicates and sorts the tag set
// written on an event; empty strings are dropped.
func normalizeEventTags(raw []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
