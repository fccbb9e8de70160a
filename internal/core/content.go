package core

import "time"

// ContentStats carries the engagement counters the ranker reads.
type ContentStats struct {
	Views     int `json:"views"`
	Likes     int `json:"likes"`
	Shares    int `json:"shares"`
	Bookmarks int `json:"bookmarks"`
}

// Add returns the element-wise sum of two stat sets.
func (s ContentStats) Add(o ContentStats) ContentStats {
	return ContentStats{
		Views:     s.Views + o.Views,
		Likes:     s.Likes + o.Likes,
		Shares:    s.Shares + o.Shares,
		Bookmarks: s.Bookmarks + o.Bookmarks,
	}
}

// ContentItem is the uniform shape the feed ranker operates on. Events,
// series and category bundles all flatten into it; the ranker never needs
// to know which variant it is scoring.
type ContentItem struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	ContentType ContentType    `json:"contentType"`
	Tags        []string       `json:"tags,omitempty"`
	Embedding   []float64      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Stats       ContentStats   `json:"stats"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BundleInfo is the metadata payload attached to a synthetic
// event-category-bundle content item.
type BundleInfo struct {
	CategoryID       string      `json:"categoryId"`
	CategoryName     string      `json:"categoryName"`
	HostID           string      `json:"hostId"`
	HostName         string      `json:"hostName,omitempty"`
	SeriesIDs        []string    `json:"seriesIds"`
	NewSeriesIDs     []string    `json:"newSeriesIds"`
	DisplaySeries    []string    `json:"displaySeries"`
	TotalSeriesCount int         `json:"totalSeriesCount"`
	BundleState      BundleState `json:"bundleState"`
}

// BundleState is the (categoryId, version) pair a client echoes back when
// the user marks a bundle as seen.
type BundleState struct {
	CategoryID string `json:"categoryId"`
	Version    int    `json:"version"`
}

// EventContentItem flattens a canonical event for ranking.
func EventContentItem(e *CanonicalEvent) ContentItem {
	return ContentItem{
		ID:          e.ID,
		Title:       e.Title,
		ContentType: ContentTypeEvent,
		Tags:        e.Tags,
		Embedding:   e.Vector,
		CreatedAt:   e.StartTime,
	}
}

// SeriesContentItem flattens a series for ranking. CreatedAt carries the
// next occurrence time so the unpersonalized fallback orders by soonest.
func SeriesContentItem(s *EventSeries) ContentItem {
	createdAt := s.CreatedAt
	if s.NextStartTime != nil {
		createdAt = *s.NextStartTime
	}
	return ContentItem{
		ID:          s.ID,
		Title:       s.Title,
		ContentType: ContentTypeEventSeries,
		Tags:        s.Tags,
		Embedding:   s.Vector,
		CreatedAt:   createdAt,
		Stats:       ContentStats{},
		Metadata: map[string]any{
			"hostId":     s.Host.ID,
			"hostName":   s.Host.Name,
			"categoryId": s.CategoryID,
		},
	}
}
