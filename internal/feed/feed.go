// Package feed assembles the ranked feed: windowed candidates from the
// series and event stores, per-user category bundles, profile-driven
// ranking and offset pagination.
package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"pulse/internal/bundles"
	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/profile"
	"pulse/internal/rank"
	"pulse/internal/store"
	"pulse/internal/tags"
)

const (
	// DefaultPageSize applies when the query omits pageSize.
	DefaultPageSize = 20
	// MaxPageSize bounds one feed page.
	MaxPageSize = 50
	// MaxDays bounds the feed window span.
	MaxDays = 31
	// MaxTagFilters bounds the tags query parameter.
	MaxTagFilters = 10
)

// Service serves feed queries.
type Service struct {
	store      *store.Store
	profiles   *profile.Builder
	bundler    *bundles.Bundler
	displayLoc *time.Location
	now        func() time.Time
}

func New(st *store.Store, profiles *profile.Builder, bundler *bundles.Bundler, displayLoc *time.Location) *Service {
	if displayLoc == nil {
		displayLoc = time.UTC
	}
	return &Service{
		store:      st,
		profiles:   profiles,
		bundler:    bundler,
		displayLoc: displayLoc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Query is one feed request.
type Query struct {
	UserID    string
	Start     *time.Time
	Days      int
	PageSize  int
	PageToken string
	Tags      []string
}

// Response is one feed page.
type Response struct {
	Count         int           `json:"count"`
	Events        []rank.Scored `json:"events"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
	IsCaughtUp    bool          `json:"isCaughtUp"`
	Window        core.Window   `json:"window"`
	Personalized  bool          `json:"personalized"`
}

// GetFeed builds one page of the feed.
func (s *Service) GetFeed(ctx context.Context, query Query) (*Response, error) {
	window, err := s.buildWindow(query)
	if err != nil {
		return nil, err
	}
	pageSize, err := normalizePageSize(query.PageSize)
	if err != nil {
		return nil, err
	}
	offset, err := rank.DecodePageToken(query.PageToken)
	if err != nil {
		return nil, err
	}
	tagFilter := normalizeTagFilter(query.Tags)

	candidates, err := s.collectCandidates(ctx, query.UserID, window, tagFilter)
	if err != nil {
		return nil, err
	}

	userProfile, personalized := s.loadProfile(ctx, query.UserID)
	ranked := rank.Rank(candidates, userProfile, s.now(), s.displayLoc)
	if personalized {
		ranked = rank.ApplyExplorationMix(ranked, rank.DefaultExploitRatio, s.feedRNG(query.UserID, window))
	}

	page, nextToken := rank.Page(ranked, offset, pageSize)
	return &Response{
		Count:         len(page),
		Events:        page,
		NextPageToken: nextToken,
		IsCaughtUp:    nextToken == "",
		Window:        window,
		Personalized:  personalized,
	}, nil
}

// buildWindow resolves [startOfDay(start), +days) in the display zone,
// emitted as UTC instants.
func (s *Service) buildWindow(query Query) (core.Window, error) {
	days := query.Days
	if days == 0 {
		days = 1
	}
	if days < 1 || days > MaxDays {
		return core.Window{}, core.NewValidationError("days", "days must be between 1 and %d", MaxDays)
	}
	start := s.now()
	if query.Start != nil {
		start = *query.Start
	}
	return core.DayWindow(start.In(s.displayLoc), days, s.displayLoc), nil
}

func normalizePageSize(pageSize int) (int, error) {
	if pageSize == 0 {
		return DefaultPageSize, nil
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return 0, core.NewValidationError("pageSize", "pageSize must be between 1 and %d", MaxPageSize)
	}
	return pageSize, nil
}

// normalizeTagFilter slugs the requested tags and caps them.
func normalizeTagFilter(raw []string) []string {
	normalized := tags.Normalize(raw)
	if len(normalized) > MaxTagFilters {
		normalized = normalized[:MaxTagFilters]
	}
	return normalized
}

// collectCandidates gathers series with upcoming occurrences in the
// window plus standalone events, folds series into per-user bundles and
// flattens everything into rankable content items.
func (s *Service) collectCandidates(ctx context.Context, userID string, window core.Window, tagFilter []string) ([]core.ContentItem, error) {
	series, err := s.store.ListSeriesWithUpcoming(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	events, err := s.store.ListEventsInWindow(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	series = filterSeriesByTags(series, tagFilter)

	var items []core.ContentItem
	if userID != "" {
		result, err := s.bundler.Bundle(ctx, userID, series, window)
		if err != nil {
			return nil, fmt.Errorf("failed to bundle series: %w", err)
		}
		items = append(items, result.Bundles...)
		for i := range result.Ungrouped {
			items = append(items, core.SeriesContentItem(&result.Ungrouped[i]))
		}
	} else {
		for i := range series {
			items = append(items, core.SeriesContentItem(&series[i]))
		}
	}

	// standalone events: anything not represented by a series candidate
	for i := range events {
		event := &events[i]
		if event.SeriesID != "" {
			continue
		}
		if len(tagFilter) > 0 && !hasAnyTag(event.Tags, tagFilter) {
			continue
		}
		items = append(items, core.EventContentItem(event))
	}
	return items, nil
}

func filterSeriesByTags(series []core.EventSeries, tagFilter []string) []core.EventSeries {
	if len(tagFilter) == 0 {
		return series
	}
	kept := series[:0]
	for _, s := range series {
		if hasAnyTag(s.Tags, tagFilter) {
			kept = append(kept, s)
		}
	}
	return kept
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// loadProfile builds the user's profile when a userId is present. Feed
// requests never fail on profile errors; they fall back to the
// unpersonalized ordering.
func (s *Service) loadProfile(ctx context.Context, userID string) (*core.UserProfile, bool) {
	if userID == "" {
		return nil, false
	}
	userProfile, err := s.profiles.BuildUserProfile(ctx, userID)
	if err != nil {
		logger.Warn("Profile build failed; serving unpersonalized feed", "user", userID, "error", err)
		return nil, false
	}
	return userProfile, rank.Personalized(userProfile)
}

// feedRNG seeds the exploration shuffle from (userId, window) so every
// page of one logical feed view sees the same mix.
func (s *Service) feedRNG(userID string, window core.Window) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte(window.Start.UTC().Format(time.RFC3339)))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
