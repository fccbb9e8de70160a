package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"pulse/internal/core"
	"pulse/internal/tags"
)

// maxSeriesIDLength bounds series ids; longer ids keep a hashed tail so
// truncation cannot collide distinct titles.
const maxSeriesIDLength = 200

// BuildSeriesID derives the deterministic series key for (hostId, title).
func BuildSeriesID(hostID, title string) string {
	slug := tags.Slugify(title)
	if slug == "" {
		slug = "untitled"
	}
	id := hostID + "__" + slug
	if len(id) <= maxSeriesIDLength {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	tail := hex.EncodeToString(sum[:])[:12]
	return id[:maxSeriesIDLength-len(tail)-1] + "-" + tail
}

// AttachContext carries the host identity resolved during normalization.
type AttachContext struct {
	HostID    string
	HostName  string
	Organizer string
	SourceID  string
}

// AttachResult reports the outcome of attaching an event to its series.
type AttachResult struct {
	SeriesID string
	Host     core.SeriesHost
	Created  bool
}

// AttachEvent folds an event into its (host, title) series inside a single
// transaction. Concurrent attaches to the same series serialize at the
// store. Occurrences older than now-24h are evicted, duplicates by eventId
// are replaced (latest wins) and the window is capped at 20 ascending by
// start time, ties broken by eventId.
func (s *Store) AttachEvent(ctx context.Context, event *core.CanonicalEvent, attach AttachContext, now time.Time) (*AttachResult, error) {
	seriesID := BuildSeriesID(attach.HostID, event.Title)
	occurrence := occurrenceFromEvent(event)
	result := &AttachResult{SeriesID: seriesID}
	var categoryID, categoryName string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT doc FROM event_series WHERE id = ?`+s.forUpdate()), seriesID,
		).Scan(&doc)

		var series *core.EventSeries
		switch {
		case errors.Is(err, sql.ErrNoRows):
			series = newSeries(seriesID, event, attach, occurrence, now)
			result.Created = true
		case err != nil:
			return fmt.Errorf("failed to read series %s: %w", seriesID, err)
		default:
			series = &core.EventSeries{}
			if err := json.Unmarshal([]byte(doc), series); err != nil {
				return fmt.Errorf("malformed stored series %s: %w", seriesID, err)
			}
			mergeOccurrence(series, event, attach, occurrence, now)
		}

		refreshSeriesDerived(series, now)
		result.Host = series.Host
		categoryID, categoryName = series.CategoryID, series.CategoryName

		encoded, err := json.Marshal(series)
		if err != nil {
			return fmt.Errorf("failed to encode series %s: %w", seriesID, err)
		}
		var nextStart any
		if series.NextStartTime != nil {
			nextStart = encodeTime(*series.NextStartTime)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO event_series (id, host_id, category_id, next_start_time, doc)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				host_id = excluded.host_id,
				category_id = excluded.category_id,
				next_start_time = excluded.next_start_time,
				doc = excluded.doc`),
			series.ID, series.Host.ID, series.CategoryID, nextStart, string(encoded))
		if err != nil {
			return fmt.Errorf("failed to write series %s: %w", seriesID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Back-fill the linkage onto the stored event document so feed reads
	// can tell series members from standalone events. Attach may run before
	// the event document exists; the caller then saves the event with the
	// linkage already set.
	if err := s.UpdateEventSeriesInfo(ctx, event.ID, seriesID, categoryID, categoryName); err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return result, nil
}

func (s *Store) forUpdate() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func occurrenceFromEvent(event *core.CanonicalEvent) core.Occurrence {
	location := ""
	if event.Venue != nil {
		location = event.Venue.Name
		if location == "" {
			location = event.Venue.RawLocation
		}
	}
	return core.Occurrence{
		EventID:   event.ID,
		Title:     event.Title,
		StartTime: event.StartTime.UTC(),
		EndTime:   event.EndTime,
		Location:  location,
		Tags:      event.Tags,
	}
}

func newSeries(seriesID string, event *core.CanonicalEvent, attach AttachContext, occ core.Occurrence, now time.Time) *core.EventSeries {
	return &core.EventSeries{
		ID:          seriesID,
		Title:       event.Title,
		Description: event.Description,
		ContentType: core.ContentTypeEventSeries,
		Host: core.SeriesHost{
			ID:        attach.HostID,
			Name:      attach.HostName,
			Organizer: attach.Organizer,
			SourceIDs: []string{attach.SourceID},
		},
		Tags:                event.Tags,
		Breadcrumbs:         appendBreadcrumb(nil, event),
		Source:              event.Source,
		Venue:               event.Venue,
		UpcomingOccurrences: []core.Occurrence{occ},
		Vector:              event.Vector,
		CreatedAt:           now.UTC(),
	}
}

func mergeOccurrence(series *core.EventSeries, event *core.CanonicalEvent, attach AttachContext, occ core.Occurrence, now time.Time) {
	cutoff := now.UTC().Add(-24 * time.Hour)

	kept := series.UpcomingOccurrences[:0]
	for _, existing := range series.UpcomingOccurrences {
		if existing.EventID == occ.EventID {
			continue
		}
		if existing.StartTime.Before(cutoff) {
			continue
		}
		kept = append(kept, existing)
	}
	series.UpcomingOccurrences = append(kept, occ)

	series.Tags = tags.Union(series.Tags, event.Tags)
	series.Host.SourceIDs = unionStrings(series.Host.SourceIDs, attach.SourceID)
	if series.Host.Name == "" {
		series.Host.Name = attach.HostName
	}
	if series.Host.Organizer == "" {
		series.Host.Organizer = attach.Organizer
	}
	if series.Description == "" {
		series.Description = event.Description
	}
	if len(series.Vector) == 0 {
		series.Vector = event.Vector
	}
	series.Breadcrumbs = appendBreadcrumb(series.Breadcrumbs, event)
}

// refreshSeriesDerived re-sorts the occurrence window and recomputes the
// denormalized next-occurrence fields.
func refreshSeriesDerived(series *core.EventSeries, now time.Time) {
	cutoff := now.UTC().Add(-24 * time.Hour)
	kept := series.UpcomingOccurrences[:0]
	for _, occ := range series.UpcomingOccurrences {
		if occ.StartTime.Before(cutoff) {
			continue
		}
		kept = append(kept, occ)
	}
	series.UpcomingOccurrences = kept

	sort.SliceStable(series.UpcomingOccurrences, func(i, j int) bool {
		a, b := series.UpcomingOccurrences[i], series.UpcomingOccurrences[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.EventID < b.EventID
	})
	if len(series.UpcomingOccurrences) > core.MaxUpcomingOccurrences {
		series.UpcomingOccurrences = series.UpcomingOccurrences[:core.MaxUpcomingOccurrences]
	}

	if len(series.UpcomingOccurrences) > 0 {
		first := series.UpcomingOccurrences[0]
		series.NextOccurrence = &first
		start := first.StartTime
		series.NextStartTime = &start
	} else {
		series.NextOccurrence = nil
		series.NextStartTime = nil
	}
	series.Stats.UpcomingCount = len(series.UpcomingOccurrences)
	series.UpdatedAt = now.UTC()
}

// appendBreadcrumb appends an attach breadcrumb, deduplicating by
// sourceEventId and keeping at most the newest MaxBreadcrumbs entries.
func appendBreadcrumb(crumbs []core.Breadcrumb, event *core.CanonicalEvent) []core.Breadcrumb {
	for _, c := range crumbs {
		if c.SourceEventID == event.Source.SourceEventID {
			return crumbs
		}
	}
	crumbs = append(crumbs, core.Breadcrumb{
		Type:          "series-attach",
		SourceID:      event.Source.SourceID,
		SourceEventID: event.Source.SourceEventID,
		FetchedAt:     event.LastFetchedAt,
	})
	if len(crumbs) > core.MaxBreadcrumbs {
		crumbs = crumbs[len(crumbs)-core.MaxBreadcrumbs:]
	}
	return crumbs
}

func unionStrings(existing []string, add string) []string {
	for _, s := range existing {
		if s == add {
			return existing
		}
	}
	out := append(existing, add)
	sort.Strings(out)
	return out
}

// GetSeries returns a series or core.ErrNotFound.
func (s *Store) GetSeries(ctx context.Context, id string) (*core.EventSeries, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT doc FROM event_series WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read series %s: %w", id, err)
	}
	var series core.EventSeries
	if err := json.Unmarshal([]byte(doc), &series); err != nil {
		return nil, fmt.Errorf("malformed stored series %s: %w", id, err)
	}
	return &series, nil
}

// GetSeriesByIDs loads series by id, skipping missing ones.
func (s *Store) GetSeriesByIDs(ctx context.Context, ids []string) (map[string]*core.EventSeries, error) {
	out := make(map[string]*core.EventSeries, len(ids))
	for _, id := range ids {
		series, err := s.GetSeries(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = series
	}
	return out, nil
}

// ListSeriesWithUpcoming returns series whose next start time falls inside
// the window, ordered by next start ascending.
func (s *Store) ListSeriesWithUpcoming(ctx context.Context, window core.Window) ([]core.EventSeries, error) {
	rows, err := s.query(ctx, `
		SELECT doc FROM event_series
		WHERE next_start_time IS NOT NULL AND next_start_time >= ? AND next_start_time < ?
		ORDER BY next_start_time ASC, id ASC`,
		encodeTime(window.Start), encodeTime(window.End))
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []core.EventSeries
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var series core.EventSeries
		if err := json.Unmarshal([]byte(doc), &series); err != nil {
			continue
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

// UpdateSeriesCategory merge-patches the category assignment onto a series.
func (s *Store) UpdateSeriesCategory(ctx context.Context, seriesID, categoryID, categoryName, categorySlug string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT doc FROM event_series WHERE id = ?`+s.forUpdate()), seriesID,
		).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read series %s: %w", seriesID, err)
		}

		var series core.EventSeries
		if err := json.Unmarshal([]byte(doc), &series); err != nil {
			return fmt.Errorf("malformed stored series %s: %w", seriesID, err)
		}
		series.CategoryID = categoryID
		series.CategoryName = categoryName
		series.CategorySlug = categorySlug
		series.UpdatedAt = now.UTC()

		encoded, err := json.Marshal(&series)
		if err != nil {
			return fmt.Errorf("failed to encode series %s: %w", seriesID, err)
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE event_series SET category_id = ?, doc = ? WHERE id = ?`),
			categoryID, string(encoded), seriesID)
		return err
	})
}
