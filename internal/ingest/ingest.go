// Package ingest drives the pull-classify-persist pipeline: fetch raw
// items from a source, classify tags, embed enriched text in one batch,
// then write events, series and categories.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/internal/categorize"
	"pulse/internal/classify"
	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/sources"
	"pulse/internal/store"
	"pulse/internal/tags"
)

// Classifier is the slice of the classify gateway the pipeline needs.
type Classifier interface {
	ClassifyTags(ctx context.Context, title, description string, maxSuggestions int) []core.TagCandidate
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// Assigner decides category membership for a series.
type Assigner interface {
	AssignSeries(ctx context.Context, seriesID string, force bool) (*categorize.Assignment, error)
}

// Tracker receives per-source run summaries. May be nil.
type Tracker interface {
	TrackIngestRun(ctx context.Context, sourceID string, fetched, created, updated, skipped int) error
}

// Stats aggregates the outcome of one or more ingest runs.
type Stats struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (s *Stats) add(other Stats) {
	s.Fetched += other.Fetched
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
}

// Options tunes one ingest run.
type Options struct {
	// ForceRefresh reclassifies every event even when the upstream
	// updated timestamp is unchanged.
	ForceRefresh bool
}

// Orchestrator runs the three-phase pipeline for one source at a time.
type Orchestrator struct {
	store      *store.Store
	classifier Classifier
	assigner   Assigner
	tracker    Tracker
	blocked    []string
	now        func() time.Time
}

func NewOrchestrator(st *store.Store, classifier Classifier, assigner Assigner, tracker Tracker, blockedTags []string) *Orchestrator {
	return &Orchestrator{
		store:      st,
		classifier: classifier,
		assigner:   assigner,
		tracker:    tracker,
		blocked:    blockedTags,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// preparedEvent carries one payload across the pipeline phases.
type preparedEvent struct {
	normalized *sources.NormalizedEvent
	existing   *core.CanonicalEvent
	reuse      bool
	skipped    bool

	candidates []core.TagCandidate
	tagList    []string
	vector     []float64
}

// RunSource executes the full pipeline for one adapter over one window.
// Fetch errors abort the run; everything downstream degrades per entry.
func (o *Orchestrator) RunSource(ctx context.Context, adapter sources.Adapter, window core.Window, opts Options) (Stats, error) {
	payloads, err := adapter.FetchRawEvents(ctx, window)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch failed for source %s: %w", adapter.Name(), err)
	}

	stats := Stats{Fetched: len(payloads)}
	prepared := o.prepare(ctx, adapter, payloads, opts, &stats)
	o.tag(ctx, prepared)
	o.embed(ctx, prepared)
	o.persist(ctx, prepared, opts, &stats)

	if o.tracker != nil {
		if err := o.tracker.TrackIngestRun(ctx, adapter.Name(), stats.Fetched, stats.Created, stats.Updated, stats.Skipped); err != nil {
			logger.Debug("Failed to track ingest run", "source", adapter.Name(), "error", err)
		}
	}
	logger.Info("Ingest run finished", "source", adapter.Name(),
		"fetched", stats.Fetched, "created", stats.Created, "updated", stats.Updated, "skipped", stats.Skipped)
	return stats, nil
}

// prepare normalizes payloads and decides per entry whether the stored
// classification can be reused. Unchanged upstream timestamps mean the
// LLM and embedding phases are skipped for that entry.
func (o *Orchestrator) prepare(ctx context.Context, adapter sources.Adapter, payloads []core.RawEventPayload, opts Options, stats *Stats) []*preparedEvent {
	prepared := make([]*preparedEvent, 0, len(payloads))
	for _, payload := range payloads {
		normalized, err := adapter.Normalize(payload)
		if err != nil {
			logger.Warn("Skipping payload that failed normalization",
				"source", payload.SourceID, "event", payload.SourceEventID, "error", err)
			stats.Skipped++
			continue
		}

		existing, err := o.store.GetEvent(ctx, normalized.Event.ID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			logger.Warn("Skipping payload: event read failed", "event", normalized.Event.ID, "error", err)
			stats.Skipped++
			continue
		}

		entry := &preparedEvent{normalized: normalized, existing: existing}
		entry.reuse = !opts.ForceRefresh &&
			existing != nil &&
			!existing.LastUpdatedAt.IsZero() &&
			normalized.Event.LastUpdatedAt.Equal(existing.LastUpdatedAt)
		if entry.reuse {
			entry.tagList = existing.Tags
			entry.vector = existing.Vector
			if existing.Classification != nil {
				entry.candidates = existing.Classification.Candidates
			}
		}
		prepared = append(prepared, entry)
	}
	return prepared
}

// tag runs tag classification for every non-reuse entry.
func (o *Orchestrator) tag(ctx context.Context, prepared []*preparedEvent) {
	for _, entry := range prepared {
		if entry.reuse || entry.skipped {
			continue
		}
		event := entry.normalized.Event
		entry.candidates = o.classifier.ClassifyTags(ctx, event.Title, event.Description, classify.DefaultMaxSuggestions)
		llmTags := make([]string, 0, len(entry.candidates))
		for _, candidate := range entry.candidates {
			llmTags = append(llmTags, candidate.Tag)
		}
		entry.tagList = tags.Union(llmTags, tags.Normalize(event.Tags, o.blocked...))
	}
}

// embed builds enriched text for every non-reuse entry that has tags and
// embeds all of them in a single batch call.
func (o *Orchestrator) embed(ctx context.Context, prepared []*preparedEvent) {
	var pending []*preparedEvent
	var texts []string
	for _, entry := range prepared {
		if entry.reuse || entry.skipped || len(entry.tagList) == 0 {
			continue
		}
		event := entry.normalized.Event
		pending = append(pending, entry)
		texts = append(texts, classify.EnrichedText(event.Title, event.Description, entry.tagList))
	}
	if len(pending) == 0 {
		return
	}

	vectors, err := o.classifier.EmbedMany(ctx, texts)
	if err != nil || len(vectors) != len(pending) {
		logger.Warn("Embedding batch failed; events proceed without vectors", "count", len(pending), "error", err)
		return
	}
	for i, entry := range pending {
		entry.vector = vectors[i]
	}
}

// persist writes every entry: reused entries get a fetch-time touch, the
// rest flow through proposals, series attach, category assignment and a
// full event write.
func (o *Orchestrator) persist(ctx context.Context, prepared []*preparedEvent, opts Options, stats *Stats) {
	now := o.now()
	for _, entry := range prepared {
		if entry.skipped {
			continue
		}
		event := entry.normalized.Event

		if entry.reuse {
			if err := o.store.TouchEvent(ctx, event.ID, event.LastFetchedAt); err != nil {
				logger.Warn("Touch failed", "event", event.ID, "error", err)
				stats.Skipped++
				continue
			}
			stats.Updated++
			continue
		}

		if len(entry.tagList) > 0 {
			if err := o.store.RecordTagProposals(ctx, event.ID, event.Title, event.Source.SourceID, entry.tagList, now); err != nil {
				logger.Warn("Failed to record tag proposals", "event", event.ID, "error", err)
			}
		}

		event.Tags = entry.tagList
		event.Vector = entry.vector
		event.Classification = &core.Classification{
			Tags:       entry.tagList,
			Candidates: entry.candidates,
		}
		if entry.existing != nil {
			event.Breadcrumbs = extendBreadcrumbs(entry.existing.Breadcrumbs, event.Breadcrumbs)
		}

		o.attachAndCategorize(ctx, entry, opts, now)

		created, err := o.store.SaveEvent(ctx, event, entry.normalized.RawSnapshot, entry.existing)
		if err != nil {
			logger.Warn("Skipping entry: event write failed", "event", event.ID, "error", err)
			stats.Skipped++
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}
}

// extendBreadcrumbs appends this run's fetch crumbs to the chain already
// stored on the event, dropping exact repeats by (type, fetchedAt) and
// keeping the newest MaxBreadcrumbs entries. The adapter only knows about
// its own fetch, so without the merge every rewrite would reset the chain.
func extendBreadcrumbs(existing, incoming []core.Breadcrumb) []core.Breadcrumb {
	merged := append([]core.Breadcrumb(nil), existing...)
	for _, crumb := range incoming {
		seen := false
		for _, prev := range merged {
			if prev.Type == crumb.Type && prev.FetchedAt.Equal(crumb.FetchedAt) {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, crumb)
		}
	}
	if len(merged) > core.MaxBreadcrumbs {
		merged = merged[len(merged)-core.MaxBreadcrumbs:]
	}
	return merged
}

// attachAndCategorize folds the event into its series and assigns the
// series a category. Both steps degrade to a plain event write on error.
func (o *Orchestrator) attachAndCategorize(ctx context.Context, entry *preparedEvent, opts Options, now time.Time) {
	event := entry.normalized.Event
	host := entry.normalized.HostContext

	result, err := o.store.AttachEvent(ctx, event, store.AttachContext{
		HostID:    host.HostIDSeed,
		HostName:  host.HostName,
		Organizer: host.Organizer,
		SourceID:  event.Source.SourceID,
	}, now)
	if err != nil {
		logger.Warn("Series attach failed; event written standalone", "event", event.ID, "error", err)
		return
	}
	event.SeriesID = result.SeriesID

	assignment, err := o.assigner.AssignSeries(ctx, result.SeriesID, result.Created || opts.ForceRefresh)
	if err != nil {
		logger.Warn("Category assignment failed", "series", result.SeriesID, "error", err)
		return
	}
	event.SeriesCategoryID = assignment.CategoryID
	event.SeriesCategoryName = assignment.CategoryName
}
