// Package observability provides optional product-analytics integration.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"

	"pulse/internal/config"
)

// PostHogClient wraps the PostHog SDK for product analytics. When analytics
// is not configured every call is a no-op.
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event.
type EventProperties map[string]interface{}

// NewPostHogClient creates a new PostHog analytics client.
func NewPostHogClient() (*PostHogClient, error) {
	cfg := config.GetPostHogConfig()

	if !cfg.Enabled {
		return &PostHogClient{
			enabled: false,
			log:     slog.Default(),
		}, nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
		log:     slog.Default(),
	}, nil
}

// IsEnabled returns whether PostHog tracking is enabled.
func (p *PostHogClient) IsEnabled() bool {
	return p.enabled
}

// Capture sends an event to PostHog.
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.enabled {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	return p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
}

// TrackEvent records a system-scoped event; classification and ingest use
// this for pipeline telemetry.
func (p *PostHogClient) TrackEvent(ctx context.Context, event string, properties map[string]interface{}) error {
	return p.Capture(ctx, "system", event, properties)
}

// TrackTagClassification tracks one tag-classification outcome.
func (p *PostHogClient) TrackTagClassification(ctx context.Context, eventID string, tagCount int, llmUsed bool, latencyMs int64) error {
	return p.TrackEvent(ctx, "tags_classified", EventProperties{
		"event_id":   eventID,
		"tag_count":  tagCount,
		"llm_used":   llmUsed,
		"latency_ms": latencyMs,
	})
}

// TrackIngestRun tracks an ingest run summary per source.
func (p *PostHogClient) TrackIngestRun(ctx context.Context, sourceID string, fetched, created, updated, skipped int) error {
	return p.TrackEvent(ctx, "ingest_run", EventProperties{
		"source_id": sourceID,
		"fetched":   fetched,
		"created":   created,
		"updated":   updated,
		"skipped":   skipped,
	})
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring.
func (p *PostHogClient) TrackLLMCall(ctx context.Context, model string, operation string, latencyMs int64) error {
	return p.TrackEvent(ctx, "llm_call", EventProperties{
		"model":      model,
		"operation":  operation, // "classification", "categorization", "embedding"
		"latency_ms": latencyMs,
	})
}

// Shutdown flushes pending events and shuts down the PostHog client.
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	return p.client.Close()
}
