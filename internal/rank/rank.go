// Package rank scores feed candidates against a user profile with six
// weighted signals and mixes in exploration before pagination.
package rank

import (
	"encoding/base64"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"pulse/internal/core"
	"pulse/internal/llm"
	profilepkg "pulse/internal/profile"
)

// Signal weights. Topic similarity dominates; recency and popularity are
// tie-breakers.
const (
	weightTopic       = 0.40
	weightContentType = 0.25
	weightTime        = 0.15
	weightStyle       = 0.10
	weightRecency     = 0.05
	weightPopularity  = 0.05

	// DefaultExploitRatio keeps this share of the ranked head intact.
	DefaultExploitRatio = 0.8
)

// Scored is one candidate with its computed score breakdown.
type Scored struct {
	Item   core.ContentItem `json:"item"`
	Score  float64          `json:"score"`
	Signal Signals          `json:"signals"`
}

// Signals is the per-candidate sub-score breakdown.
type Signals struct {
	Topic       float64 `json:"topic"`
	ContentType float64 `json:"contentType"`
	Time        float64 `json:"time"`
	Style       float64 `json:"style"`
	Recency     float64 `json:"recency"`
	Popularity  float64 `json:"popularity"`
}

// Rank scores candidates against the profile and sorts descending. The
// location resolves time-of-day buckets; nil means UTC. A nil profile, a
// profile below the interaction threshold or one without an embedding
// centroid yields the unpersonalized fallback: ascending createdAt, all
// scores zero.
func Rank(candidates []core.ContentItem, profile *core.UserProfile, now time.Time, loc *time.Location) []Scored {
	if !personalizable(profile) {
		return fallback(candidates)
	}
	if loc == nil {
		loc = time.UTC
	}

	scored := make([]Scored, len(candidates))
	for i, item := range candidates {
		signals := Signals{
			Topic:       topicScore(item, profile),
			ContentType: contentTypeScore(item, profile),
			Time:        timeScore(profile, now, loc),
			Style:       styleScore(item, profile),
			Recency:     recencyScore(item, now),
			Popularity:  popularityScore(item),
		}
		scored[i] = Scored{
			Item:   item,
			Signal: signals,
			Score: weightTopic*signals.Topic +
				weightContentType*signals.ContentType +
				weightTime*signals.Time +
				weightStyle*signals.Style +
				weightRecency*signals.Recency +
				weightPopularity*signals.Popularity,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// Personalized reports whether Rank would use the profile.
func Personalized(profile *core.UserProfile) bool {
	return personalizable(profile)
}

func personalizable(profile *core.UserProfile) bool {
	return profile != nil &&
		profile.TotalInteractions >= profilepkg.MinInteractionsForPersonalization &&
		len(profile.Embedding) > 0
}

func fallback(candidates []core.ContentItem) []Scored {
	scored := make([]Scored, len(candidates))
	for i, item := range candidates {
		scored[i] = Scored{Item: item}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Item.CreatedAt.Before(scored[j].Item.CreatedAt)
	})
	return scored
}

func topicScore(item core.ContentItem, profile *core.UserProfile) float64 {
	if len(item.Embedding) == 0 || len(profile.Embedding) == 0 {
		return 0
	}
	similarity := llm.CosineSimilarity(item.Embedding, profile.Embedding)
	if similarity < 0 {
		return 0
	}
	return similarity
}

func contentTypeScore(item core.ContentItem, profile *core.UserProfile) float64 {
	affinity, ok := profile.ContentTypeAffinity[item.ContentType]
	if !ok {
		return 0.5
	}
	return (affinity + 1) / 2
}

func timeScore(profile *core.UserProfile, now time.Time, loc *time.Location) float64 {
	total := 0
	for _, count := range profile.TimeOfDayPatterns {
		total += count
	}
	if total == 0 {
		return 0.5
	}
	bucket := core.TimeOfDayOf(now, loc)
	return float64(profile.TimeOfDayPatterns[bucket]) / float64(total)
}

func styleScore(item core.ContentItem, profile *core.UserProfile) float64 {
	length := float64(len(item.Title))
	switch {
	case profile.EngagementStyle.IsDeepReader:
		return math.Min(length/200, 1)
	case profile.EngagementStyle.QuickBrowser:
		return math.Max(1-length/200, 0)
	default:
		return 0.5
	}
}

func recencyScore(item core.ContentItem, now time.Time) float64 {
	ageHours := now.Sub(item.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / 24)
}

func popularityScore(item core.ContentItem) float64 {
	stats := item.Stats
	if stats.Views == 0 {
		return 0
	}
	engagement := (float64(stats.Likes) + 2*float64(stats.Shares) + 1.5*float64(stats.Bookmarks)) / float64(stats.Views)
	return math.Min(engagement/0.2, 1)
}

// ApplyExplorationMix keeps the top exploitRatio share of the ranked list
// in order and Fisher-Yates shuffles the remainder with the provided RNG,
// so lower-ranked candidates still surface without displacing the head.
// Callers pass a seeded RNG to make the mix deterministic.
func ApplyExplorationMix(ranked []Scored, exploitRatio float64, rng *rand.Rand) []Scored {
	if len(ranked) < 2 {
		return ranked
	}
	head := int(float64(len(ranked)) * exploitRatio)
	if head > len(ranked) {
		head = len(ranked)
	}

	mixed := make([]Scored, len(ranked))
	copy(mixed, ranked)
	tail := mixed[head:]
	for i := len(tail) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		tail[i], tail[j] = tail[j], tail[i]
	}
	return mixed
}

// EncodePageToken encodes the next offset as an opaque token.
func EncodePageToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodePageToken reverses EncodePageToken. Empty means offset 0; malformed
// or negative tokens are rejected.
func DecodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, core.ErrInvalidPageToken
	}
	offset, err := strconv.Atoi(string(decoded))
	if err != nil || offset < 0 {
		return 0, core.ErrInvalidPageToken
	}
	return offset, nil
}

// Page slices a ranked list at offset for pageSize items and returns the
// next-page token, empty when the list is exhausted.
func Page(ranked []Scored, offset, pageSize int) ([]Scored, string) {
	if offset >= len(ranked) {
		return nil, ""
	}
	end := offset + pageSize
	if end >= len(ranked) {
		return ranked[offset:], ""
	}
	return ranked[offset:end], EncodePageToken(end)
}
