package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/tags"
)

// Adapter is implemented by every source backend. FetchRawEvents pulls raw
// items for a window; Normalize turns one raw item into a canonical event
// plus the host context derived from it. The raw payload is kept verbatim
// as an audit snapshot.
type Adapter interface {
	Name() string
	FetchRawEvents(ctx context.Context, window core.Window) ([]core.RawEventPayload, error)
	Normalize(payload core.RawEventPayload) (*NormalizedEvent, error)
}

// NormalizedEvent is the output of Adapter.Normalize.
type NormalizedEvent struct {
	Event       *core.CanonicalEvent
	RawSnapshot map[string]any
	HostContext core.HostContext
}

// NewAdapter builds the adapter for a configured source.
func NewAdapter(src config.Source) (Adapter, error) {
	switch src.Type {
	case "google-calendar":
		return NewGoogleCalendarAdapter(src), nil
	case "json-feed":
		return NewJSONFeedAdapter(src), nil
	case "webpage":
		return NewWebpageAdapter(src), nil
	default:
		return nil, fmt.Errorf("unknown source type %q for source %s", src.Type, src.ID)
	}
}

// DeriveHostContext picks the host identity for an event: the declared
// organizer first, then the source's human label, then a slug of the
// source id. The seed hashes the chosen identity together with the source
// id so the same organizer on the same source always maps to one host.
func DeriveHostContext(organizer, label, sourceID string) core.HostContext {
	name := strings.TrimSpace(organizer)
	if name == "" {
		name = strings.TrimSpace(label)
	}
	if name == "" {
		name = tags.Slugify(sourceID)
		if name == "" {
			name = sourceID
		}
	}
	sum := sha256.Sum256([]byte(sourceID + "|" + strings.ToLower(name)))
	return core.HostContext{
		HostIDSeed: "host:" + hex.EncodeToString(sum[:])[:12],
		HostName:   name,
		Organizer:  strings.TrimSpace(organizer),
	}
}

// fetchBreadcrumb builds the audit entry recorded on every normalized
// event. The URL is redacted before it is stored.
func fetchBreadcrumb(payload core.RawEventPayload, fetchedURL string) core.Breadcrumb {
	crumb := core.Breadcrumb{
		Type:          "fetched",
		SourceID:      payload.SourceID,
		SourceEventID: payload.SourceEventID,
		FetchedAt:     payload.FetchedAt,
	}
	if fetchedURL != "" {
		crumb.Metadata = map[string]string{"fetchedUrl": RedactURL(fetchedURL)}
	}
	return crumb
}
