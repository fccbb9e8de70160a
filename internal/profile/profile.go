// Package profile derives a user's taste profile from their recent
// interaction history. Profiles are computed on demand and never stored.
package profile

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/store"
)

const (
	// MaxInteractions bounds how much history one profile build reads.
	MaxInteractions = 200
	// MinInteractionsForPersonalization is the threshold below which the
	// feed stays unpersonalized.
	MinInteractionsForPersonalization = 20

	deepReaderDwell  = 10.0
	quickBrowseDwell = 3.0
	deepScrollDepth  = 20.0
	affinityScale    = 10.0
)

// Builder computes user profiles from the interaction store.
type Builder struct {
	store *store.Store
}

func New(st *store.Store) *Builder {
	return &Builder{store: st}
}

// HasEnoughData reports whether the user crossed the personalization
// threshold.
func (b *Builder) HasEnoughData(ctx context.Context, userID string) (bool, error) {
	count, err := b.store.CountInteractions(ctx, userID)
	if err != nil {
		return false, err
	}
	return count >= MinInteractionsForPersonalization, nil
}

// BuildUserProfile derives the profile from the user's most recent
// interactions: an embedding centroid over positively-acted content, a
// per-content-type affinity in [-1,1], a time-of-day histogram and an
// engagement style.
func (b *Builder) BuildUserProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	interactions, err := b.store.ListRecentInteractions(ctx, userID, MaxInteractions)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions for %s: %w", userID, err)
	}

	profile := &core.UserProfile{
		UserID:              userID,
		ContentTypeAffinity: map[core.ContentType]float64{},
		TimeOfDayPatterns:   map[core.TimeOfDay]int{},
		TotalInteractions:   len(interactions),
	}
	if len(interactions) == 0 {
		return profile, nil
	}
	profile.LastActiveAt = interactions[0].Timestamp

	profile.ContentTypeAffinity = contentTypeAffinity(interactions)
	profile.TimeOfDayPatterns = timeOfDayHistogram(interactions)
	profile.EngagementStyle = engagementStyle(interactions)

	centroid, err := b.embeddingCentroid(ctx, interactions)
	if err != nil {
		// the rest of the profile is still usable
		logger.Warn("Failed to build embedding centroid", "user", userID, "error", err)
	} else {
		profile.Embedding = centroid
	}
	return profile, nil
}

// contentTypeAffinity averages action weights per content type and scales
// into [-1,1]. A type a user keeps dismissing trends negative.
func contentTypeAffinity(interactions []core.UserInteraction) map[core.ContentType]float64 {
	sums := map[core.ContentType]float64{}
	counts := map[core.ContentType]int{}
	for _, in := range interactions {
		sums[in.ContentType] += core.ActionWeights[in.Action]
		counts[in.ContentType]++
	}

	affinity := make(map[core.ContentType]float64, len(sums))
	for contentType, sum := range sums {
		value := sum / float64(counts[contentType]) / affinityScale
		if value > 1 {
			value = 1
		}
		if value < -1 {
			value = -1
		}
		affinity[contentType] = value
	}
	return affinity
}

func timeOfDayHistogram(interactions []core.UserInteraction) map[core.TimeOfDay]int {
	histogram := map[core.TimeOfDay]int{}
	for _, in := range interactions {
		if core.KnownTimesOfDay[in.Context.TimeOfDay] {
			histogram[in.Context.TimeOfDay]++
		}
	}
	return histogram
}

// engagementStyle averages dwell time and feed position over the
// interactions that carry them.
func engagementStyle(interactions []core.UserInteraction) core.EngagementStyle {
	var dwellSum, posSum float64
	var dwellCount, posCount int
	for _, in := range interactions {
		if in.DwellTime > 0 {
			dwellSum += in.DwellTime
			dwellCount++
		}
		if in.Context.Position > 0 {
			posSum += float64(in.Context.Position)
			posCount++
		}
	}

	style := core.EngagementStyle{}
	if dwellCount > 0 {
		style.AvgDwellTime = dwellSum / float64(dwellCount)
		style.IsDeepReader = style.AvgDwellTime > deepReaderDwell
		style.QuickBrowser = style.AvgDwellTime < quickBrowseDwell
	}
	if posCount > 0 {
		style.AvgPosition = posSum / float64(posCount)
		style.ScrollsDeep = style.AvgPosition > deepScrollDepth
	}
	return style
}

// embeddingCentroid loads the vectors of positively-acted content and
// returns their element-wise mean, or nil when no vectors exist.
func (b *Builder) embeddingCentroid(ctx context.Context, interactions []core.UserInteraction) ([]float64, error) {
	var eventIDs, seriesIDs []string
	seen := map[string]bool{}
	for _, in := range interactions {
		if !core.PositiveActions[in.Action] || seen[in.ContentID] {
			continue
		}
		seen[in.ContentID] = true
		switch in.ContentType {
		case core.ContentTypeEvent:
			eventIDs = append(eventIDs, in.ContentID)
		case core.ContentTypeEventSeries:
			seriesIDs = append(seriesIDs, in.ContentID)
		}
	}

	var vectors [][]float64
	if len(eventIDs) > 0 {
		events, err := b.store.GetEventsByIDs(ctx, eventIDs)
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			if len(event.Vector) > 0 {
				vectors = append(vectors, event.Vector)
			}
		}
	}
	if len(seriesIDs) > 0 {
		series, err := b.store.GetSeriesByIDs(ctx, seriesIDs)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			if len(s.Vector) > 0 {
				vectors = append(vectors, s.Vector)
			}
		}
	}
	return MeanVector(vectors), nil
}

// MeanVector is the element-wise arithmetic mean of same-length vectors.
// Vectors whose length disagrees with the first are skipped.
func MeanVector(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	sum := make([]float64, len(vectors[0]))
	count := 0
	for _, vector := range vectors {
		if len(vector) != len(sum) {
			continue
		}
		floats.Add(sum, vector)
		count++
	}
	if count == 0 {
		return nil
	}
	floats.Scale(1/float64(count), sum)
	return sum
}
