// Package handlers holds the CLI subcommands and the wiring that builds
// the services they run.
package handlers

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/categorize"
	"pulse/internal/classify"
	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/ingest"
	"pulse/internal/llm"
	"pulse/internal/logger"
	"pulse/internal/observability"
	"pulse/internal/store"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse ingests community events and serves a personalized feed.",
		Long: `Pulse pulls events from configured calendars and feeds, enriches them
with LLM tags and embeddings, groups recurring events into series and
categories, and serves a ranked feed over HTTP.

Run 'pulse ingest' from a scheduler to keep content fresh and
'pulse serve' to expose the feed API.`,
	}

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewClassifyCmd())
	rootCmd.AddCommand(NewSourcesCmd())
	rootCmd.AddCommand(NewStatusCmd())
	return rootCmd
}

// openStore opens the configured backend: Postgres when DATABASE_URL is
// set, the SQLite file under the data dir otherwise.
func openStore(cfg *config.Config) (*store.Store, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return store.OpenPostgres(dsn)
	}
	return store.NewStore(cfg.App.DataDir)
}

func displayLocation(cfg *config.Config) *time.Location {
	loc, err := core.LoadDisplayLocation(cfg.App.DisplayTimeZone)
	if err != nil {
		logger.Warn("Unknown display time zone; falling back to UTC", "zone", cfg.App.DisplayTimeZone)
		return time.UTC
	}
	return loc
}

// buildIngestRunner wires the full ingestion pipeline: Gemini client,
// tag classifier, category assigner, optional PostHog tracking.
func buildIngestRunner(cfg *config.Config, st *store.Store) (*ingest.Runner, error) {
	if err := cfg.ValidateForIngest(); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(cfg.AI.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var gatewayTracker classify.Tracker
	var ingestTracker ingest.Tracker
	if posthog, err := observability.NewPostHogClient(); err == nil && posthog.IsEnabled() {
		gatewayTracker = posthog
		ingestTracker = posthog
	}

	gateway := classify.New(client, client, gatewayTracker, cfg.Tags.Blocked)
	assigner := categorize.New(st, client)
	orchestrator := ingest.NewOrchestrator(st, gateway, assigner, ingestTracker, cfg.Tags.Blocked)
	return ingest.NewRunner(orchestrator, cfg.Ingest, cfg.Sources), nil
}
