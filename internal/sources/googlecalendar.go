package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
)

const googleCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleCalendarAdapter pulls events from the Google Calendar REST API.
// Recurrences are expanded server-side (singleEvents=true) so every item
// is a concrete occurrence.
type GoogleCalendarAdapter struct {
	sourceID   string
	calendarID string
	label      string
	apiKey     string
	timeZone   string
	baseURL    string
}

func NewGoogleCalendarAdapter(src config.Source) *GoogleCalendarAdapter {
	baseURL := src.URL
	if baseURL == "" {
		baseURL = googleCalendarBaseURL
	}
	return &GoogleCalendarAdapter{
		sourceID:   src.ID,
		calendarID: src.CalendarID,
		label:      src.Label,
		apiKey:     src.APIKey,
		timeZone:   src.TimeZone,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (a *GoogleCalendarAdapter) Name() string { return a.sourceID }

type googleEventsPage struct {
	Items         []map[string]any `json:"items"`
	NextPageToken string           `json:"nextPageToken"`
}

func (a *GoogleCalendarAdapter) FetchRawEvents(ctx context.Context, window core.Window) ([]core.RawEventPayload, error) {
	var payloads []core.RawEventPayload
	pageToken := ""
	for page := 0; page < MaxPages; page++ {
		pageURL := a.eventsURL(window, pageToken)
		var result googleEventsPage
		if err := getJSON(ctx, pageURL, &result); err != nil {
			return nil, err
		}

		fetchedAt := time.Now().UTC()
		for _, item := range result.Items {
			id, _ := item["id"].(string)
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

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}
	logger.Debug("Fetched calendar events", "source", a.sourceID, "count", len(payloads))
	return payloads, nil
}

func (a *GoogleCalendarAdapter) eventsURL(window core.Window, pageToken string) string {
	query := url.Values{}
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	query.Set("maxResults", "250")
	query.Set("timeMin", window.Start.UTC().Format(time.RFC3339))
	query.Set("timeMax", window.End.UTC().Format(time.RFC3339))
	if a.timeZone != "" {
		query.Set("timeZone", a.timeZone)
	}
	if a.apiKey != "" {
		query.Set("key", a.apiKey)
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	return fmt.Sprintf("%s/calendars/%s/events?%s", a.baseURL, url.PathEscape(a.calendarID), query.Encode())
}

func (a *GoogleCalendarAdapter) Normalize(payload core.RawEventPayload) (*NormalizedEvent, error) {
	raw := payload.Raw
	start, allDay, err := parseGoogleTime(raw, "start")
	if err != nil {
		return nil, fmt.Errorf("event %s has no usable start time: %w", payload.SourceEventID, err)
	}
	end, _, endErr := parseGoogleTime(raw, "end")

	organizer := nestedString(raw, "organizer", "displayName")
	if organizer == "" {
		organizer = nestedString(raw, "organizer", "email")
	}

	event := &core.CanonicalEvent{
		ID:          core.EventID(payload.SourceID, payload.SourceEventID),
		Title:       strings.TrimSpace(stringField(raw, "summary")),
		Description: strings.TrimSpace(stringField(raw, "description")),
		StartTime:   start,
		TimeZone:    a.timeZone,
		IsAllDay:    allDay,
		Organizer:   organizer,
		Status:      stringField(raw, "status"),
		Source: core.SourceRef{
			SourceID:      payload.SourceID,
			SourceEventID: payload.SourceEventID,
			SourceURL:     stringField(raw, "htmlLink"),
		},
		LastFetchedAt: payload.FetchedAt,
	}
	if endErr == nil {
		event.EndTime = &end
	}
	if location := strings.TrimSpace(stringField(raw, "location")); location != "" {
		event.Venue = &core.Venue{RawLocation: location}
	}
	if updated, err := time.Parse(time.RFC3339, stringField(raw, "updated")); err == nil {
		event.LastUpdatedAt = updated.UTC()
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

// parseGoogleTime reads start/end blocks, which carry either a dateTime
// (timed event) or a date (all-day event).
func parseGoogleTime(raw map[string]any, field string) (time.Time, bool, error) {
	block, _ := raw[field].(map[string]any)
	if block == nil {
		return time.Time{}, false, fmt.Errorf("missing %s block", field)
	}
	if value, ok := block["dateTime"].(string); ok && value != "" {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), false, nil
	}
	if value, ok := block["date"].(string); ok && value != "" {
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("missing dateTime and date in %s block", field)
}

func stringField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return value
}

func nestedString(raw map[string]any, key, subkey string) string {
	block, _ := raw[key].(map[string]any)
	if block == nil {
		return ""
	}
	value, _ := block[subkey].(string)
	return value
}
