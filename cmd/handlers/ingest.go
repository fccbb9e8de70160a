package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/ingest"
)

// NewIngestCmd creates the ingest command for a one-shot pipeline run.
func NewIngestCmd() *cobra.Command {
	var (
		force    bool
		sourceID string
		days     int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, classify and store events from all configured sources",
		Long: `Run one full ingestion pass: fetch raw events from every configured
source, classify tags and embeddings, attach series and categories, and
write everything to the store.

Typically run from cron every 30 minutes. Exit code 0 on success, 1 on
a fatal configuration error; per-entry failures are logged and skipped.

Examples:
  # Ingest the configured lookahead window
  pulse ingest

  # Re-classify everything, ignoring unchanged-event reuse
  pulse ingest --force

  # Only one source, looking 7 days ahead
  pulse ingest --source downtown-calendar --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(force, sourceID, days)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess events even when the source copy is unchanged")
	cmd.Flags().StringVar(&sourceID, "source", "", "Restrict the run to one source id")
	cmd.Flags().IntVar(&days, "days", 0, "Override the lookahead window in days")
	return cmd
}

func runIngest(force bool, sourceID string, days int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if sourceID != "" {
		cfg.Sources = filterSources(cfg.Sources, sourceID)
		if len(cfg.Sources) == 0 {
			return fmt.Errorf("unknown source %q", sourceID)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	runner, err := buildIngestRunner(cfg, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window := runner.DefaultWindow(time.Now())
	if days > 0 {
		window = core.Window{Start: window.Start, End: time.Now().UTC().AddDate(0, 0, days)}
	}

	stats := runner.Run(ctx, window, ingest.Options{ForceRefresh: force})
	fmt.Printf("Ingest complete: fetched=%d created=%d updated=%d skipped=%d\n",
		stats.Fetched, stats.Created, stats.Updated, stats.Skipped)
	return nil
}

func filterSources(srcs []config.Source, id string) []config.Source {
	var kept []config.Source
	for _, src := range srcs {
		if src.ID == id {
			kept = append(kept, src)
		}
	}
	return kept
}
