package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
)

// WebpageAdapter scrapes an event listing page for schema.org/Event
// structured data embedded as JSON-LD script blocks.
type WebpageAdapter struct {
	sourceID string
	pageURL  string
	label    string
	timeZone string
}

func NewWebpageAdapter(src config.Source) *WebpageAdapter {
	return &WebpageAdapter{
		sourceID: src.ID,
		pageURL:  src.URL,
		label:    src.Label,
		timeZone: src.TimeZone,
	}
}

func (a *WebpageAdapter) Name() string { return a.sourceID }

func (a *WebpageAdapter) FetchRawEvents(ctx context.Context, window core.Window) ([]core.RawEventPayload, error) {
	body, err := getBody(ctx, a.pageURL, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", RedactURL(a.pageURL), err)
	}

	fetchedAt := time.Now().UTC()
	var payloads []core.RawEventPayload
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, block *goquery.Selection) {
		for _, item := range decodeJSONLD(block.Text()) {
			start, err := parseFeedTime(firstString(item, "startDate"))
			if err != nil {
				continue
			}
			if !window.IsZero() && !window.Contains(start) {
				continue
			}
			item["fetchedUrl"] = RedactURL(a.pageURL)
			payloads = append(payloads, core.RawEventPayload{
				SourceID:      a.sourceID,
				SourceEventID: webpageEventID(item, start),
				FetchedAt:     fetchedAt,
				Raw:           item,
			})
		}
	})
	logger.Debug("Scraped page events", "source", a.sourceID, "count", len(payloads))
	return payloads, nil
}

// decodeJSONLD accepts a single object, an array, or an @graph wrapper and
// returns the contained Event objects. Malformed blocks are skipped.
func decodeJSONLD(text string) []map[string]any {
	var node any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &node); err != nil {
		return nil
	}
	return collectEvents(node)
}

func collectEvents(node any) []map[string]any {
	switch typed := node.(type) {
	case []any:
		var out []map[string]any
		for _, item := range typed {
			out = append(out, collectEvents(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := typed["@graph"]; ok {
			return collectEvents(graph)
		}
		if isSchemaEvent(typed["@type"]) {
			return []map[string]any{typed}
		}
		return nil
	default:
		return nil
	}
}

func isSchemaEvent(value any) bool {
	switch typed := value.(type) {
	case string:
		return typed == "Event" || strings.HasSuffix(typed, "Event")
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok && isSchemaEvent(s) {
				return true
			}
		}
	}
	return false
}

// webpageEventID prefers the declared url or @id; pages without either get
// a stable hash of title and start time.
func webpageEventID(item map[string]any, start time.Time) string {
	if id := firstString(item, "url", "@id"); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(firstString(item, "name") + "|" + start.UTC().Format(time.RFC3339)))
	return "ld-" + hex.EncodeToString(sum[:])[:12]
}

func (a *WebpageAdapter) Normalize(payload core.RawEventPayload) (*NormalizedEvent, error) {
	raw := payload.Raw
	start, err := parseFeedTime(firstString(raw, "startDate"))
	if err != nil {
		return nil, fmt.Errorf("event %s has no usable start time: %w", payload.SourceEventID, err)
	}

	organizer := nestedString(raw, "organizer", "name")
	event := &core.CanonicalEvent{
		ID:          core.EventID(payload.SourceID, payload.SourceEventID),
		Title:       strings.TrimSpace(firstString(raw, "name")),
		Description: strings.TrimSpace(firstString(raw, "description")),
		StartTime:   start,
		TimeZone:    a.timeZone,
		Organizer:   organizer,
		Price:       jsonLDPrice(raw),
		Status:      jsonLDStatus(firstString(raw, "eventStatus")),
		Source: core.SourceRef{
			SourceID:      payload.SourceID,
			SourceEventID: payload.SourceEventID,
			SourceURL:     firstString(raw, "url"),
		},
		LastFetchedAt: payload.FetchedAt,
		LastUpdatedAt: payload.FetchedAt,
	}
	if end, err := parseFeedTime(firstString(raw, "endDate")); err == nil {
		event.EndTime = &end
	}
	if venue := jsonLDVenue(raw); venue != nil {
		event.Venue = venue
	}
	event.Breadcrumbs = []core.Breadcrumb{fetchBreadcrumb(payload, stringField(raw, "fetchedUrl"))}

	return &NormalizedEvent{
		Event:       event,
		RawSnapshot: raw,
		HostContext: DeriveHostContext(organizer, a.label, a.sourceID),
	}, nil
}

func jsonLDVenue(raw map[string]any) *core.Venue {
	switch location := raw["location"].(type) {
	case string:
		if strings.TrimSpace(location) == "" {
			return nil
		}
		return &core.Venue{RawLocation: strings.TrimSpace(location)}
	case map[string]any:
		venue := &core.Venue{Name: strings.TrimSpace(firstString(location, "name"))}
		switch address := location["address"].(type) {
		case string:
			venue.Address = strings.TrimSpace(address)
		case map[string]any:
			venue.Address = strings.TrimSpace(firstString(address, "streetAddress"))
		}
		if venue.Name == "" && venue.Address == "" {
			return nil
		}
		return venue
	default:
		return nil
	}
}

func jsonLDPrice(raw map[string]any) string {
	offers, ok := raw["offers"].(map[string]any)
	if !ok {
		if list, ok := raw["offers"].([]any); ok && len(list) > 0 {
			offers, _ = list[0].(map[string]any)
		}
	}
	if offers == nil {
		return ""
	}
	if value, ok := floatField(offers, "price"); ok {
		if value == 0 {
			return "Free"
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return firstString(offers, "price")
}

// jsonLDStatus strips the schema.org URL prefix, e.g.
// "https://schema.org/EventScheduled" becomes "EventScheduled".
func jsonLDStatus(value string) string {
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		return value[idx+1:]
	}
	return value
}
