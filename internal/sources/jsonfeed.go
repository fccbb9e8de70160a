package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
)

// JSONFeedAdapter pulls events from a generic JSON events API. The feed
// either returns a top-level array or an object with an "events" array,
// and pages via a "page" query parameter until it returns an empty page.
type JSONFeedAdapter struct {
	sourceID string
	feedURL  string
	label    string
	apiKey   string
	timeZone string
}

func NewJSONFeedAdapter(src config.Source) *JSONFeedAdapter {
	return &JSONFeedAdapter{
		sourceID: src.ID,
		feedURL:  src.URL,
		label:    src.Label,
		apiKey:   src.APIKey,
		timeZone: src.TimeZone,
	}
}

func (a *JSONFeedAdapter) Name() string { return a.sourceID }

func (a *JSONFeedAdapter) FetchRawEvents(ctx context.Context, window core.Window) ([]core.RawEventPayload, error) {
	var payloads []core.RawEventPayload
	for page := 1; page <= MaxPages; page++ {
		pageURL, err := a.pageURL(window, page)
		if err != nil {
			return nil, err
		}

		items, err := fetchFeedPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		fetchedAt := time.Now().UTC()
		for _, item := range items {
			id := firstString(item, "id", "event_id", "eventId", "uid")
			if id == "" {
				continue
			}
			item["fetchedUrl"] = RedactURL(pageURL)
			payloads = append(payloads, core.RawEventPayload{
				SourceID:      a.sourceID,
				SourceEventID: id,
				FetchedAt:     fetchedAt,
				Raw:           item,
			})
		}
	}
	logger.Debug("Fetched feed events", "source", a.sourceID, "count", len(payloads))
	return payloads, nil
}

func (a *JSONFeedAdapter) pageURL(window core.Window, page int) (string, error) {
	parsed, err := url.Parse(a.feedURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url for source %s: %w", a.sourceID, err)
	}
	query := parsed.Query()
	query.Set("start", window.Start.UTC().Format(time.RFC3339))
	query.Set("end", window.End.UTC().Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))
	if a.apiKey != "" {
		query.Set("api_key", a.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// fetchFeedPage tolerates both response shapes the feeds in the wild use.
func fetchFeedPage(ctx context.Context, pageURL string) ([]map[string]any, error) {
	var asObject struct {
		Events []map[string]any `json:"events"`
	}
	body, err := getBody(ctx, pageURL, "application/json")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &asObject); err == nil && asObject.Events != nil {
		return asObject.Events, nil
	}
	var asArray []map[string]any
	if err := json.Unmarshal(body, &asArray); err != nil {
		return nil, fmt.Errorf("unrecognized feed response from %s: %w", RedactURL(pageURL), err)
	}
	return asArray, nil
}

func (a *JSONFeedAdapter) Normalize(payload core.RawEventPayload) (*NormalizedEvent, error) {
	raw := payload.Raw
	start, err := parseFeedTime(firstString(raw, "start_time", "startTime", "start", "starts_at"))
	if err != nil {
		return nil, fmt.Errorf("event %s has no usable start time: %w", payload.SourceEventID, err)
	}

	organizer := firstString(raw, "organizer", "organizer_name", "host")
	event := &core.CanonicalEvent{
		ID:          core.EventID(payload.SourceID, payload.SourceEventID),
		Title:       strings.TrimSpace(firstString(raw, "title", "name")),
		Description: strings.TrimSpace(firstString(raw, "description", "summary")),
		StartTime:   start,
		TimeZone:    firstString(raw, "time_zone", "timezone", "timeZone"),
		Organizer:   organizer,
		Price:       feedPrice(raw),
		Status:      firstString(raw, "status"),
		Tags:        stringList(raw["tags"]),
		Source: core.SourceRef{
			SourceID:      payload.SourceID,
			SourceEventID: payload.SourceEventID,
			SourceURL:     firstString(raw, "url", "link"),
		},
		LastFetchedAt: payload.FetchedAt,
	}
	if event.TimeZone == "" {
		event.TimeZone = a.timeZone
	}
	if end, err := parseFeedTime(firstString(raw, "end_time", "endTime", "end", "ends_at")); err == nil {
		event.EndTime = &end
	}
	if location := strings.TrimSpace(firstString(raw, "location", "venue", "address")); location != "" {
		event.Venue = &core.Venue{RawLocation: location}
	}
	if updated, err := parseFeedTime(firstString(raw, "updated_at", "updatedAt", "updated")); err == nil {
		event.LastUpdatedAt = updated
	} else {
		event.LastUpdatedAt = payload.FetchedAt
	}
	event.Breadcrumbs = []core.Breadcrumb{fetchBreadcrumb(payload, stringField(raw, "fetchedUrl"))}

	return &NormalizedEvent{
		Event:       event,
		RawSnapshot: raw,
		HostContext: DeriveHostContext(organizer, a.label, a.sourceID),
	}, nil
}

func parseFeedTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func feedPrice(raw map[string]any) string {
	if value, ok := floatField(raw, "price"); ok {
		if value == 0 {
			return "Free"
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return firstString(raw, "price", "cost")
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// floatField reads a numeric value that may arrive as JSON number or string.
func floatField(raw map[string]any, key string) (float64, bool) {
	switch value := raw[key].(type) {
	case float64:
		return value, true
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
