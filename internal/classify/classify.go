// Package classify is the gateway between the ingest pipeline and the LLM
// and embedding models: tag classification first, then embedding of the
// enriched text.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"pulse/internal/core"
	"pulse/internal/llm"
	"pulse/internal/logger"
	"pulse/internal/tags"
)

// DefaultMaxSuggestions caps the tag candidates requested from the LLM.
const DefaultMaxSuggestions = 15

// TextGenerator is the LLM surface the gateway needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Embedder is the embedding surface the gateway needs.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
}

// Tracker receives classification telemetry when analytics is enabled.
type Tracker interface {
	IsEnabled() bool
	TrackTagClassification(ctx context.Context, eventID string, tagCount int, llmUsed bool, latencyMs int64) error
	TrackLLMCall(ctx context.Context, model string, operation string, latencyMs int64) error
}

// Gateway calls the LLM for tags and the embedding model for vectors.
type Gateway struct {
	llm     TextGenerator
	embed   Embedder
	tracker Tracker
	blocked []string
}

// New creates a classifier gateway. tracker may be nil.
func New(textGen TextGenerator, embedder Embedder, tracker Tracker, blockedTags []string) *Gateway {
	return &Gateway{
		llm:     textGen,
		embed:   embedder,
		tracker: tracker,
		blocked: blockedTags,
	}
}

// Input carries the text to classify. Vector, when already known from a
// previous run, suppresses the embedding call.
type Input struct {
	Title          string
	Description    string
	Vector         []float64
	MaxSuggestions int
}

// Metadata describes which models participated in a classification.
type Metadata struct {
	LLMUsed        bool `json:"llmUsed"`
	EmbeddingsUsed bool `json:"embeddingsUsed"`
	Reused         bool `json:"reused,omitempty"`
}

// Result is the classification outcome handed back to the orchestrator.
type Result struct {
	Tags       []string
	Candidates []core.TagCandidate
	Vector     []float64
	Metadata   Metadata
}

// tagResponse is the strict JSON shape the LLM must return.
type tagResponse struct {
	Tags []struct {
		Label      string  `json:"label"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"tags"`
}

// responseSchema constrains the LLM output so parsing never has to deal
// with prose around the JSON.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tags": {
				Type:        genai.TypeArray,
				Description: "Suggested tags across the five facets",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"label": {
							Type:        genai.TypeString,
							Description: "Noun or noun phrase naming the tag",
						},
						"category": {
							Type:        genai.TypeString,
							Description: "Facet: specific-topic, activity-type, broader-category, audience or vibe",
						},
						"confidence": {
							Type:        genai.TypeNumber,
							Description: "Confidence from 0.0 to 1.0",
						},
					},
					Required: []string{"label", "category", "confidence"},
				},
			},
		},
		Required: []string{"tags"},
	}
}

func buildTagPrompt(title, description string, maxSuggestions int) string {
	var b strings.Builder
	b.WriteString("You label community events with search tags.\n\n")
	b.WriteString(fmt.Sprintf("Suggest up to %d tags for the event below. Tags must be nouns or noun phrases.\n", maxSuggestions))
	b.WriteString("Cover five facets: the specific topic, the activity type, a broader category, the audience, and the vibe.\n")
	b.WriteString("Avoid generic words like \"event\", \"class\" or day names.\n\n")
	b.WriteString("Title: " + title + "\n")
	if description != "" {
		desc := description
		if len(desc) > 1500 {
			desc = desc[:1500]
		}
		b.WriteString("Description: " + desc + "\n")
	}
	return b.String()
}

// ClassifyTags asks the LLM for tag candidates. A malformed response
// degrades to an empty candidate list; it never returns an error for parse
// failures, only for transport failures bubbled up by the caller's policy.
func (g *Gateway) ClassifyTags(ctx context.Context, title, description string, maxSuggestions int) []core.TagCandidate {
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}

	start := time.Now()
	temp := float32(0)
	response, err := g.llm.GenerateText(ctx, buildTagPrompt(title, description, maxSuggestions), llm.TextGenerationOptions{
		Temperature:    &temp,
		MaxTokens:      1500,
		ResponseSchema: responseSchema(),
	})
	if err != nil {
		logger.Warn("Tag classification call failed", "title", title, "error", err.Error())
		return nil
	}

	candidates := g.parseCandidates(response, maxSuggestions)

	if g.tracker != nil && g.tracker.IsEnabled() {
		latency := time.Since(start).Milliseconds()
		_ = g.tracker.TrackLLMCall(ctx, llm.DefaultModel, "classification", latency)
		_ = g.tracker.TrackTagClassification(ctx, title, len(candidates), len(candidates) > 0, latency)
	}

	return candidates
}

// parseCandidates turns the strict-JSON response into slugged, filtered,
// confidence-ordered candidates. Any parse error yields an empty list.
func (g *Gateway) parseCandidates(response string, maxSuggestions int) []core.TagCandidate {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	var parsed tagResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		logger.Warn("Tag classification response was not valid JSON", "error", err.Error())
		return nil
	}

	seen := map[string]bool{}
	var candidates []core.TagCandidate
	for _, t := range parsed.Tags {
		slug := tags.Slugify(t.Label)
		if slug == "" || tags.IsStopWord(slug) || seen[slug] {
			continue
		}
		if g.isBlocked(slug) {
			continue
		}
		confidence := t.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		seen[slug] = true
		candidates = append(candidates, core.TagCandidate{
			Tag:        slug,
			Confidence: confidence,
			Rationale:  t.Category,
			Source:     core.CandidateSourceLLM,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	return candidates
}

func (g *Gateway) isBlocked(slug string) bool {
	for _, b := range g.blocked {
		if b == slug {
			return true
		}
	}
	return false
}

// EnrichedText builds the embedding input: title, description and the
// generated tags as related topics.
func EnrichedText(title, description string, tagList []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n")
	}
	b.WriteString("\nRelated topics: ")
	b.WriteString(strings.Join(tagList, ", "))
	return b.String()
}

// Embed generates one vector for the enriched text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float64, error) {
	return g.embed.GenerateEmbedding(ctx, text)
}

// EmbedMany generates vectors for all texts in a single batch call.
func (g *Gateway) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	start := time.Now()
	vectors, err := g.embed.GenerateEmbeddings(ctx, texts)
	if err == nil && g.tracker != nil && g.tracker.IsEnabled() {
		_ = g.tracker.TrackLLMCall(ctx, llm.DefaultEmbeddingModel, "embedding", time.Since(start).Milliseconds())
	}
	return vectors, err
}

// Classify runs both phases for a single item: tag classification, then
// embedding of the enriched text. A pre-supplied vector short-circuits the
// embedding call.
func (g *Gateway) Classify(ctx context.Context, in Input) (*Result, error) {
	candidates := g.ClassifyTags(ctx, in.Title, in.Description, in.MaxSuggestions)

	tagList := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tagList = append(tagList, c.Tag)
	}

	result := &Result{
		Tags:       tagList,
		Candidates: candidates,
		Vector:     in.Vector,
		Metadata:   Metadata{LLMUsed: len(candidates) > 0},
	}

	if len(result.Vector) > 0 {
		result.Metadata.Reused = true
		return result, nil
	}
	if len(tagList) == 0 {
		return result, nil
	}

	vector, err := g.Embed(ctx, EnrichedText(in.Title, in.Description, tagList))
	if err != nil {
		return nil, fmt.Errorf("failed to embed enriched text: %w", err)
	}
	result.Vector = vector
	result.Metadata.EmbeddingsUsed = true
	return result, nil
}
