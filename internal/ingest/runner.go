package ingest

import (
	"context"
	"time"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/sources"
)

// Runner drives the orchestrator across all configured sources, splitting
// the total window into chunks to bound per-call payload size.
type Runner struct {
	orchestrator *Orchestrator
	cfg          config.Ingest
	srcs         []config.Source
}

func NewRunner(orchestrator *Orchestrator, cfg config.Ingest, srcs []config.Source) *Runner {
	return &Runner{orchestrator: orchestrator, cfg: cfg, srcs: srcs}
}

// DefaultWindow is the source-independent ingest window: configured
// lookback and lookahead around now.
func (r *Runner) DefaultWindow(now time.Time) core.Window {
	return core.Window{
		Start: now.UTC().AddDate(0, 0, -r.cfg.LookbackDays),
		End:   now.UTC().AddDate(0, 0, r.cfg.LookaheadDays),
	}
}

// Run ingests every configured source over the window. A source whose
// adapter cannot be built or whose fetch fails is logged and the next
// source attempted.
func (r *Runner) Run(ctx context.Context, window core.Window, opts Options) Stats {
	var total Stats
	for _, src := range r.srcs {
		adapter, err := sources.NewAdapter(src)
		if err != nil {
			logger.Error("Skipping source with invalid configuration", err, "source", src.ID)
			continue
		}
		stats, err := r.runChunked(ctx, adapter, window, r.chunkDays(src), opts)
		if err != nil {
			logger.Error("Source run aborted", err, "source", src.ID)
		}
		total.add(stats)
	}
	return total
}

// chunkDays picks the chunk size for a source: calendars expand
// recurrences and page hard, so they use smaller chunks than feed APIs.
func (r *Runner) chunkDays(src config.Source) int {
	if src.Type == "google-calendar" {
		return r.cfg.CalendarChunkDays
	}
	return r.cfg.FeedChunkDays
}

// runChunked covers [window.Start, window.End) with contiguous sub-windows
// of chunkDays, exclusive on the right, and aggregates the stats. An error
// aborts the remaining chunks for this adapter.
func (r *Runner) runChunked(ctx context.Context, adapter sources.Adapter, window core.Window, chunkDays int, opts Options) (Stats, error) {
	if chunkDays <= 0 {
		chunkDays = 7
	}
	var total Stats
	for start := window.Start; start.Before(window.End); {
		end := start.AddDate(0, 0, chunkDays)
		if end.After(window.End) {
			end = window.End
		}
		stats, err := r.orchestrator.RunSource(ctx, adapter, core.Window{Start: start, End: end}, opts)
		total.add(stats)
		if err != nil {
			return total, err
		}
		start = end
	}
	return total, nil
}
