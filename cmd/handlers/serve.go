package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pulse/internal/bundles"
	"pulse/internal/config"
	"pulse/internal/feed"
	"pulse/internal/interactions"
	"pulse/internal/logger"
	"pulse/internal/profile"
	"pulse/internal/server"
)

// NewServeCmd creates the serve command for starting the HTTP server.
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the feed API server",
		Long: `Start the pulse HTTP server.

The server exposes:
  • GET  /feed                          ranked, optionally personalized feed
  • POST /interactions[/batch]          interaction recording
  • GET/POST /users/{id}/pinned-events  pinned events
  • GET  /tag-proposals                 taxonomy review queue
  • POST /admin/ingest                  scheduler-driven ingest trigger

All endpoints require the X-API-Key header. The server reads from the
store populated by 'pulse ingest'; when ingestion is fully configured
the admin trigger runs it in-process.

Examples:
  # Start on the configured port (default 8080)
  pulse serve

  # Start on a custom port
  pulse serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	return cmd
}

func runServe(port int, host string) error {
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	loc := displayLocation(cfg)
	deps := server.Deps{
		Store:        st,
		Feed:         feed.New(st, profile.New(st), bundles.New(st), loc),
		Interactions: interactions.New(st, loc),
		DisplayLoc:   loc,
	}

	// Ingestion is optional for the server: without a Gemini key the
	// admin trigger answers 503 and the feed serves what is stored.
	if runner, err := buildIngestRunner(cfg, st); err == nil {
		deps.Ingest = runner
		deps.LLMReady = true
	} else {
		log.Warn("Ingestion not available on this server", "reason", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting HTTP server", "host", serverCfg.Host, "port", serverCfg.Port)
	return server.New(deps, serverCfg).Start(ctx)
}
