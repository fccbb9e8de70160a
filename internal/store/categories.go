package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/internal/core"
	"pulse/internal/tags"
)

// BuildCategoryID derives the deterministic category key for a host-scoped
// category name.
func BuildCategoryID(hostID, name string) string {
	sum := sha256.Sum256([]byte(hostID + ":" + strings.ToLower(name)))
	return "category:" + hex.EncodeToString(sum[:])[:12]
}

// GetCategory returns a category or core.ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, id string) (*core.EventCategory, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT doc FROM event_categories WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category %s: %w", id, err)
	}
	var category core.EventCategory
	if err := json.Unmarshal([]byte(doc), &category); err != nil {
		return nil, fmt.Errorf("malformed stored category %s: %w", id, err)
	}
	return &category, nil
}

// GetCategoriesByIDs loads categories by id, skipping missing ones.
func (s *Store) GetCategoriesByIDs(ctx context.Context, ids []string) (map[string]*core.EventCategory, error) {
	out := make(map[string]*core.EventCategory, len(ids))
	for _, id := range ids {
		category, err := s.GetCategory(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = category
	}
	return out, nil
}

// ListCategoriesByHost returns all categories for a host.
func (s *Store) ListCategoriesByHost(ctx context.Context, hostID string) ([]core.EventCategory, error) {
	rows, err := s.query(ctx, `SELECT doc FROM event_categories WHERE host_id = ? ORDER BY name_key ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories for host %s: %w", hostID, err)
	}
	defer rows.Close()

	var out []core.EventCategory
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var category core.EventCategory
		if err := json.Unmarshal([]byte(doc), &category); err != nil {
			continue
		}
		out = append(out, category)
	}
	return out, rows.Err()
}

// CreateCategory inserts a brand-new category seeded with one series at
// version 1 and a matching changeLog entry.
func (s *Store) CreateCategory(ctx context.Context, hostID, name, description string, series *core.EventSeries, now time.Time) (*core.EventCategory, error) {
	category := &core.EventCategory{
		ID:                 BuildCategoryID(hostID, name),
		HostID:             hostID,
		Name:               name,
		Slug:               tags.Slugify(name),
		Description:        description,
		Tags:               capStrings(series.Tags, core.MaxCategoryTags),
		SampleSeriesTitles: []string{series.Title},
		SeriesIDs:          []string{series.ID},
		Version:            1,
		ChangeLog: []core.CategoryChange{{
			Version:           1,
			AddedSeriesIDs:    []string{series.ID},
			AddedSeriesTitles: []string{series.Title},
			CreatedAt:         now.UTC(),
		}},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	if err := s.writeCategory(ctx, nil, category); err != nil {
		return nil, err
	}
	return category, nil
}

// AddSeriesToCategory adds a series to an existing category. The version
// bump and changeLog append happen in the same transaction so readers can
// never observe a version without its diff entry. Adding a series already
// present is a no-op.
func (s *Store) AddSeriesToCategory(ctx context.Context, categoryID string, series *core.EventSeries, now time.Time) (*core.EventCategory, error) {
	var result *core.EventCategory
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		category, err := s.readCategoryTx(ctx, tx, categoryID)
		if err != nil {
			return err
		}

		if !category.HasSeries(series.ID) {
			category.Version++
			category.SeriesIDs = append(category.SeriesIDs, series.ID)
			category.ChangeLog = append(category.ChangeLog, core.CategoryChange{
				Version:           category.Version,
				AddedSeriesIDs:    []string{series.ID},
				AddedSeriesTitles: []string{series.Title},
				CreatedAt:         now.UTC(),
			})
			if len(category.ChangeLog) > core.MaxCategoryChangeLog {
				category.ChangeLog = category.ChangeLog[len(category.ChangeLog)-core.MaxCategoryChangeLog:]
			}
			category.Tags = capStrings(tags.Union(category.Tags, series.Tags), core.MaxCategoryTags)
			category.SampleSeriesTitles = refreshSamples(category.SampleSeriesTitles, series.Title)
			category.UpdatedAt = now.UTC()

			if err := s.writeCategory(ctx, tx, category); err != nil {
				return err
			}
		}
		result = category
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveSeriesFromCategory drops a series from a category after it was
// reassigned elsewhere. Removals do not bump the version; the changeLog
// describes additions only.
func (s *Store) RemoveSeriesFromCategory(ctx context.Context, categoryID, seriesID string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		category, err := s.readCategoryTx(ctx, tx, categoryID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		kept := category.SeriesIDs[:0]
		removed := false
		for _, id := range category.SeriesIDs {
			if id == seriesID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		if !removed {
			return nil
		}
		category.SeriesIDs = kept
		category.UpdatedAt = now.UTC()
		return s.writeCategory(ctx, tx, category)
	})
}

func (s *Store) readCategoryTx(ctx context.Context, tx *sql.Tx, id string) (*core.EventCategory, error) {
	var doc string
	err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT doc FROM event_categories WHERE id = ?`+s.forUpdate()), id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category %s: %w", id, err)
	}
	var category core.EventCategory
	if err := json.Unmarshal([]byte(doc), &category); err != nil {
		return nil, fmt.Errorf("malformed stored category %s: %w", id, err)
	}
	return &category, nil
}

// writeCategory upserts a category either inside tx or standalone.
func (s *Store) writeCategory(ctx context.Context, tx *sql.Tx, category *core.EventCategory) error {
	doc, err := json.Marshal(category)
	if err != nil {
		return fmt.Errorf("failed to encode category %s: %w", category.ID, err)
	}
	query := s.rebind(`
		INSERT INTO event_categories (id, host_id, name_key, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			host_id = excluded.host_id,
			name_key = excluded.name_key,
			doc = excluded.doc`)
	args := []any{category.ID, category.HostID, strings.ToLower(category.Name), string(doc)}

	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to write category %s: %w", category.ID, err)
	}
	return nil
}

func capStrings(in []string, max int) []string {
	if len(in) > max {
		return in[:max]
	}
	return in
}

// refreshSamples keeps the most recent MaxCategorySamples distinct titles,
// newest last.
func refreshSamples(samples []string, title string) []string {
	for _, s := range samples {
		if s == title {
			return samples
		}
	}
	samples = append(samples, title)
	if len(samples) > core.MaxCategorySamples {
		samples = samples[len(samples)-core.MaxCategorySamples:]
	}
	return samples
}
