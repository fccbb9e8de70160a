// Package bundles folds a user's candidate series into per-category
// "new items" bundles driven by the category version versus the user's
// last-seen version.
package bundles

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pulse/internal/core"
	"pulse/internal/profile"
	"pulse/internal/store"
	"pulse/internal/tags"
)

// Bundler groups candidate series by (host, category) for one user.
type Bundler struct {
	store *store.Store
}

func New(st *store.Store) *Bundler {
	return &Bundler{store: st}
}

// Result separates series that joined a bundle from those that pass
// through the feed ungrouped.
type Result struct {
	Bundles   []core.ContentItem
	Ungrouped []core.EventSeries
}

// Bundle partitions the candidate series. Series without a host or a
// category stay ungrouped. A bundle is only emitted when the user has
// never seen the category, or the category gained series since the
// version the user last saw. Member sets are hydrated from the category
// so siblings outside the candidate list still appear, window permitting.
func (b *Bundler) Bundle(ctx context.Context, userID string, candidates []core.EventSeries, window core.Window) (*Result, error) {
	result := &Result{}
	groups := map[string][]core.EventSeries{}
	var categoryIDs []string
	for _, series := range candidates {
		if series.Host.ID == "" || series.CategoryID == "" {
			result.Ungrouped = append(result.Ungrouped, series)
			continue
		}
		if _, ok := groups[series.CategoryID]; !ok {
			categoryIDs = append(categoryIDs, series.CategoryID)
		}
		groups[series.CategoryID] = append(groups[series.CategoryID], series)
	}
	if len(groups) == 0 {
		return result, nil
	}

	categories, err := b.store.GetCategoriesByIDs(ctx, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	states, err := b.store.GetBundleStates(ctx, userID, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle states: %w", err)
	}

	for _, categoryID := range categoryIDs {
		members := groups[categoryID]
		category := categories[categoryID]
		if category == nil {
			// stale category reference on the series; pass through
			result.Ungrouped = append(result.Ungrouped, members...)
			continue
		}
		members = b.hydrateMembers(ctx, category, members, window)

		state, seen := states[categoryID]
		newSeriesIDs := newSeriesSince(category, state, seen)
		if seen && len(newSeriesIDs) == 0 {
			// nothing new for this user; member series flow ungrouped
			result.Ungrouped = append(result.Ungrouped, members...)
			continue
		}
		result.Bundles = append(result.Bundles, buildBundleItem(category, members, newSeriesIDs, seen))
	}
	return result, nil
}

// hydrateMembers widens the member set to every category series with an
// upcoming occurrence inside the window. On a read failure the candidate
// members alone still make a valid bundle.
func (b *Bundler) hydrateMembers(ctx context.Context, category *core.EventCategory, members []core.EventSeries, window core.Window) []core.EventSeries {
	present := map[string]bool{}
	for _, series := range members {
		present[series.ID] = true
	}
	var missing []string
	for _, id := range category.SeriesIDs {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return members
	}

	loaded, err := b.store.GetSeriesByIDs(ctx, missing)
	if err != nil {
		return members
	}
	for _, id := range missing {
		series := loaded[id]
		if series == nil || series.NextStartTime == nil {
			continue
		}
		if window.IsZero() || window.Contains(*series.NextStartTime) {
			members = append(members, *series)
		}
	}
	return members
}

// newSeriesSince diffs the category against the user's last-seen version.
// First-time viewers get the full set. A version bump whose changeLog
// entries have been truncated away also falls back to the full set.
func newSeriesSince(category *core.EventCategory, state core.UserCategoryBundleState, seen bool) []string {
	if !seen {
		return append([]string(nil), category.SeriesIDs...)
	}
	if category.Version <= state.LastSeenVersion {
		return nil
	}

	unique := map[string]bool{}
	var added []string
	for _, change := range category.ChangeLog {
		if change.Version <= state.LastSeenVersion {
			continue
		}
		for _, id := range change.AddedSeriesIDs {
			if !unique[id] {
				unique[id] = true
				added = append(added, id)
			}
		}
	}
	if len(added) == 0 {
		return append([]string(nil), category.SeriesIDs...)
	}
	return added
}

// buildBundleItem emits the synthetic feed item for a category bundle:
// union of member tags, mean of member embeddings, summed stats.
func buildBundleItem(category *core.EventCategory, members []core.EventSeries, newSeriesIDs []string, seen bool) core.ContentItem {
	sort.Slice(members, func(i, j int) bool {
		return earliestStart(members[i]).Before(earliestStart(members[j]))
	})

	var tagSets [][]string
	var embeddings [][]float64
	memberIDs := make([]string, 0, len(members))
	createdAt := earliestStart(members[0])
	for _, series := range members {
		memberIDs = append(memberIDs, series.ID)
		tagSets = append(tagSets, series.Tags)
		if len(series.Vector) > 0 {
			embeddings = append(embeddings, series.Vector)
		}
	}

	displaySeries := newSeriesIDs
	if !seen {
		displaySeries = memberIDs
	}

	hostName := category.HostID
	if len(members) > 0 && members[0].Host.Name != "" {
		hostName = members[0].Host.Name
	}

	info := core.BundleInfo{
		CategoryID:       category.ID,
		CategoryName:     category.Name,
		HostID:           category.HostID,
		HostName:         hostName,
		SeriesIDs:        memberIDs,
		NewSeriesIDs:     newSeriesIDs,
		DisplaySeries:    displaySeries,
		TotalSeriesCount: len(category.SeriesIDs),
		BundleState:      core.BundleState{CategoryID: category.ID, Version: category.Version},
	}

	return core.ContentItem{
		ID:          "bundle:" + category.ID,
		Title:       fmt.Sprintf("%s · %s", category.Name, hostName),
		ContentType: core.ContentTypeBundle,
		Tags:        tags.Union(tagSets...),
		Embedding:   profile.MeanVector(embeddings),
		CreatedAt:   createdAt,
		Metadata:    map[string]any{"bundle": info},
	}
}

func earliestStart(series core.EventSeries) time.Time {
	if series.NextStartTime != nil {
		return *series.NextStartTime
	}
	return series.UpdatedAt
}
