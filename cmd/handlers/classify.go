package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/classify"
	"pulse/internal/config"
	"pulse/internal/llm"
)

// NewClassifyCmd creates the classify command for a one-off dry run of the
// tag and embedding pipeline against arbitrary text.
func NewClassifyCmd() *cobra.Command {
	var (
		description string
		maxTags     int
	)

	cmd := &cobra.Command{
		Use:   "classify <title>",
		Short: "Classify one event title through the tag and embedding pipeline",
		Long: `Run a single title (and optional description) through tag
classification and embedding, printing the candidates the LLM returns.
Nothing is written to the store; useful for tuning the blocklist and
inspecting what a source's titles classify to.

Examples:
  # Classify a bare title
  pulse classify "Tuesday Night Run Club"

  # Include a description and cap the suggestions
  pulse classify "Jazz Night" --description "Live quartet, doors at 7" --max-tags 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(args[0], description, maxTags)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Event description to classify alongside the title")
	cmd.Flags().IntVar(&maxTags, "max-tags", classify.DefaultMaxSuggestions, "Maximum tag candidates to request")
	return cmd
}

func runClassify(title, description string, maxTags int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := llm.NewClient(cfg.AI.Gemini.Model)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	gateway := classify.New(client, client, nil, cfg.Tags.Blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := gateway.Classify(ctx, classify.Input{
		Title:          title,
		Description:    description,
		MaxSuggestions: maxTags,
	})
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	if len(result.Candidates) == 0 {
		fmt.Println("No tag candidates returned")
	}
	for _, candidate := range result.Candidates {
		fmt.Printf("%-30s %.2f  %s\n", candidate.Tag, candidate.Confidence, candidate.Rationale)
	}
	fmt.Printf("\nembedding: %d dimensions (llm=%v embeddings=%v)\n",
		len(result.Vector), result.Metadata.LLMUsed, result.Metadata.EmbeddingsUsed)
	return nil
}
