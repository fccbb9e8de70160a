package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/config"
)

// NewSourcesCmd creates the sources command group.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured event sources",
	}
	cmd.AddCommand(newSourcesListCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(cfg.Sources) == 0 {
				fmt.Println("No sources configured. Add a sources entry to .pulse.yaml.")
				return nil
			}

			fmt.Printf("%-24s %-16s %s\n", "ID", "TYPE", "TARGET")
			for _, src := range cfg.Sources {
				target := src.URL
				if src.Type == "google-calendar" {
					target = src.CalendarID
				}
				fmt.Printf("%-24s %-16s %s\n", src.ID, src.Type, target)
			}
			return nil
		},
	}
}
