// Package categorize assigns event series to host-scoped categories using
// an LLM classifier, preferring reuse of existing categories over creating
// new ones.
package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"pulse/internal/classify"
	"pulse/internal/core"
	"pulse/internal/llm"
	"pulse/internal/logger"
	"pulse/internal/store"
)

const (
	actionUseExisting = "use-existing"
	actionCreateNew   = "create-new"
)

// Assigner decides which category a series belongs to.
type Assigner struct {
	store *store.Store
	llm   classify.TextGenerator
	now   func() time.Time
}

func New(st *store.Store, textGen classify.TextGenerator) *Assigner {
	return &Assigner{store: st, llm: textGen, now: func() time.Time { return time.Now().UTC() }}
}

// Assignment is the category a series ended up in.
type Assignment struct {
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	Created      bool   `json:"created"`
}

type categoryDecision struct {
	Category struct {
		Name   string `json:"name"`
		Action string `json:"action"`
		Reason string `json:"reason"`
	} `json:"category"`
}

// AssignSeries categorizes one series. A series that already carries a
// category keeps it unless force is set.
func (a *Assigner) AssignSeries(ctx context.Context, seriesID string, force bool) (*Assignment, error) {
	series, err := a.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to load series %s: %w", seriesID, err)
	}
	if series.CategoryID != "" && !force {
		return &Assignment{CategoryID: series.CategoryID, CategoryName: series.CategoryName}, nil
	}

	existing, err := a.store.ListCategoriesByHost(ctx, series.Host.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories for host %s: %w", series.Host.ID, err)
	}

	decision, err := a.classifyCategory(ctx, series, existing)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(decision.Category.Name)
	if name == "" {
		return nil, fmt.Errorf("classifier returned an empty category name for series %s", seriesID)
	}

	// The name match decides reuse, not the declared action: models
	// sometimes answer create-new with an existing category's name.
	matched := matchCategory(existing, name)

	now := a.now()
	var category *core.EventCategory
	created := false
	switch {
	case matched != nil:
		category, err = a.store.AddSeriesToCategory(ctx, matched.ID, series, now)
		if err != nil {
			return nil, fmt.Errorf("failed to add series %s to category %s: %w", seriesID, matched.ID, err)
		}
	default:
		category, err = a.store.CreateCategory(ctx, series.Host.ID, name, decision.Category.Reason, series, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create category %q for host %s: %w", name, series.Host.ID, err)
		}
		created = true
	}

	if series.CategoryID != "" && series.CategoryID != category.ID {
		if err := a.store.RemoveSeriesFromCategory(ctx, series.CategoryID, series.ID, now); err != nil {
			logger.Warn("Failed to remove series from prior category", "series", series.ID, "category", series.CategoryID, "error", err)
		}
	}

	if err := a.store.UpdateSeriesCategory(ctx, series.ID, category.ID, category.Name, category.Slug, now); err != nil {
		return nil, fmt.Errorf("failed to record category on series %s: %w", series.ID, err)
	}

	logger.Debug("Assigned series to category",
		"series", series.ID, "category", category.Name, "created", created, "action", decision.Category.Action)
	return &Assignment{CategoryID: category.ID, CategoryName: category.Name, Created: created}, nil
}

func (a *Assigner) classifyCategory(ctx context.Context, series *core.EventSeries, existing []core.EventCategory) (*categoryDecision, error) {
	temperature := float32(0)
	response, err := a.llm.GenerateText(ctx, buildCategoryPrompt(series, existing), llm.TextGenerationOptions{
		MaxTokens:      512,
		Temperature:    &temperature,
		ResponseSchema: categorySchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("category classification failed for %s: %w", series.ID, err)
	}

	var decision categoryDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &decision); err != nil {
		return nil, fmt.Errorf("malformed category response for %s: %w", series.ID, err)
	}
	return &decision, nil
}

func categorySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":   {Type: genai.TypeString},
					"action": {Type: genai.TypeString, Enum: []string{actionUseExisting, actionCreateNew}},
					"reason": {Type: genai.TypeString},
				},
				Required: []string{"name", "action"},
			},
		},
		Required: []string{"category"},
	}
}

func buildCategoryPrompt(series *core.EventSeries, existing []core.EventCategory) string {
	var b strings.Builder
	b.WriteString("You are organizing a community event catalog for a single host.\n")
	b.WriteString("Assign the event series below to a category.\n\n")
	fmt.Fprintf(&b, "Host: %s\n", series.Host.Name)
	fmt.Fprintf(&b, "Series title: %s\n", series.Title)
	if series.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", series.Description)
	}
	if len(series.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(series.Tags, ", "))
	}

	if len(existing) == 0 {
		b.WriteString("\nThe host has no categories yet; create the first one.\n")
	} else {
		b.WriteString("\nExisting categories for this host:\n")
		for _, category := range existing {
			samples := category.SampleSeriesTitles
			if len(samples) > 5 {
				samples = samples[:5]
			}
			fmt.Fprintf(&b, "- %s (examples: %s)\n", category.Name, strings.Join(samples, "; "))
		}
	}

	b.WriteString(`
Rules:
- Strongly prefer reusing an existing category when the series fits one.
- New category names are 2-4 words, plain and descriptive.
- Classes, courses and lessons get class-explicit names like "Dance Classes", not "Dance".
Respond with JSON only: {"category":{"name":"...","action":"use-existing"|"create-new","reason":"..."}}`)
	return b.String()
}

// matchCategory compares names case-insensitively and accent-insensitively.
// A hit means reuse regardless of what the model claimed.
func matchCategory(existing []core.EventCategory, name string) *core.EventCategory {
	want := foldName(name)
	for i := range existing {
		if foldName(existing[i].Name) == want {
			return &existing[i]
		}
	}
	return nil
}

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "ö", "o", "õ", "o", "ø", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c", "ý", "y",
)

func foldName(name string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(name)))
}
