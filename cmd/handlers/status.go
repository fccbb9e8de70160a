package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/config"
)

// NewStatusCmd creates the status command reporting local health.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check store connectivity and configuration health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("store ping failed: %w", err)
			}
			fmt.Println("store: ok")

			if cfg.AI.Gemini.APIKey != "" || os.Getenv("GEMINI_API_KEY") != "" {
				fmt.Println("llm: configured")
			} else {
				fmt.Println("llm: unconfigured")
			}
			fmt.Printf("sources: %d configured\n", len(cfg.Sources))
			fmt.Printf("display time zone: %s\n", cfg.App.DisplayTimeZone)
			return nil
		},
	}
}
