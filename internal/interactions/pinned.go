package interactions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/rank"
)

const (
	// DefaultPinnedPageSize applies when the query omits pageSize.
	DefaultPinnedPageSize = 10
	// MaxPinnedPageSize bounds one pinned-events page.
	MaxPinnedPageSize = 30

	defaultPinnedLookaheadDays = 30
)

// PinnedQuery selects the window and page of a pinned-events read.
type PinnedQuery struct {
	Mode      string
	Start     *time.Time
	End       *time.Time
	PageSize  int
	PageToken string
}

// PinnedPage is one page of merged direct and derived pins.
type PinnedPage struct {
	Events        []core.PinnedEvent `json:"events"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
	Window        core.Window        `json:"window"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// GetPinnedEvents merges a user's direct event pins with occurrences
// derived from their pinned series, windowed and offset-paginated. Day
// boundaries resolve in the display time zone.
func (s *Service) GetPinnedEvents(ctx context.Context, userID string, query PinnedQuery) (*PinnedPage, error) {
	window, err := s.buildPinnedWindow(query)
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

	direct, err := s.store.ListPinnedEventsInWindow(ctx, userID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned events for %s: %w", userID, err)
	}
	derived, err := s.derivedPins(ctx, userID, window, direct)
	if err != nil {
		return nil, err
	}

	merged := append(direct, derived...)
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.EventStartTime.Equal(b.EventStartTime) {
			return a.EventStartTime.Before(b.EventStartTime)
		}
		if !a.PinnedAt.Equal(b.PinnedAt) {
			return a.PinnedAt.After(b.PinnedAt)
		}
		return a.EventID < b.EventID
	})

	page := &PinnedPage{Window: window, UpdatedAt: s.now()}
	if offset < len(merged) {
		end := offset + pageSize
		if end >= len(merged) {
			page.Events = merged[offset:]
		} else {
			page.Events = merged[offset:end]
			page.NextPageToken = rank.EncodePageToken(end)
		}
	}
	return page, nil
}

// buildPinnedWindow resolves the query window: mode=today is the current
// day in the display time zone, an explicit range must be well ordered,
// and the default looks ahead 30 days from now.
func (s *Service) buildPinnedWindow(query PinnedQuery) (core.Window, error) {
	now := s.now()
	switch {
	case query.Mode == "today":
		return core.DayWindow(now.In(s.displayLoc), 1, s.displayLoc), nil
	case query.Start != nil || query.End != nil:
		if query.Start == nil || query.End == nil {
			return core.Window{}, core.NewValidationError("window", "start and end must be provided together")
		}
		window := core.Window{Start: query.Start.UTC(), End: query.End.UTC()}
		if err := window.Validate(); err != nil {
			return core.Window{}, core.NewValidationError("window", "end must be after start")
		}
		return window, nil
	default:
		return core.Window{Start: now, End: now.AddDate(0, 0, defaultPinnedLookaheadDays)}, nil
	}
}

func normalizePageSize(pageSize int) (int, error) {
	if pageSize == 0 {
		return DefaultPinnedPageSize, nil
	}
	if pageSize < 1 || pageSize > MaxPinnedPageSize {
		return 0, core.NewValidationError("pageSize", "pageSize must be between 1 and %d", MaxPinnedPageSize)
	}
	return pageSize, nil
}

// derivedPins expands the user's pinned series into synthetic per-
// occurrence entries, suppressing event ids already pinned directly.
func (s *Service) derivedPins(ctx context.Context, userID string, window core.Window, direct []core.PinnedEvent) ([]core.PinnedEvent, error) {
	seriesPins, err := s.store.ListPinnedSeries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned series for %s: %w", userID, err)
	}
	if len(seriesPins) == 0 {
		return nil, nil
	}

	pinned := map[string]bool{}
	for _, pin := range direct {
		pinned[pin.EventID] = true
	}

	var derived []core.PinnedEvent
	for _, pin := range seriesPins {
		series, err := s.store.GetSeries(ctx, pin.SeriesID)
		if err != nil {
			logger.Warn("Pinned series missing; skipping", "user", userID, "series", pin.SeriesID, "error", err)
			continue
		}
		for _, occurrence := range series.UpcomingOccurrences {
			if pinned[occurrence.EventID] || !window.Contains(occurrence.StartTime) {
				continue
			}
			derived = append(derived, core.PinnedEvent{
				UserID:         userID,
				EventID:        occurrence.EventID,
				Title:          occurrence.Title,
				Location:       occurrence.Location,
				Tags:           occurrence.Tags,
				EventStartTime: occurrence.StartTime,
				EventEndTime:   occurrence.EndTime,
				ContentType:    core.ContentTypeEvent,
				Source:         series.Source,
				SeriesID:       series.ID,
				SeriesTitle:    series.Title,
				HostName:       series.Host.Name,
				PinnedAt:       pin.PinnedAt,
				Derived:        true,
			})
		}
	}
	return derived, nil
}
