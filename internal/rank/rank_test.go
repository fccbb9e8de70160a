package rank

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"pulse/internal/core"
)

func personalProfile() *core.UserProfile {
	return &core.UserProfile{
		UserID:            "u1",
		Embedding:         []float64{1, 0, 0},
		TotalInteractions: 25,
		ContentTypeAffinity: map[core.ContentType]float64{
			core.ContentTypeEvent: 0.6,
		},
		TimeOfDayPatterns: map[core.TimeOfDay]int{
			core.TimeOfDayEvening: 8,
			core.TimeOfDayMorning: 2,
		},
	}
}

func item(id string, embedding []float64, createdAt time.Time) core.ContentItem {
	return core.ContentItem{
		ID: id, Title: "Some Event", ContentType: core.ContentTypeEvent,
		Embedding: embedding, CreatedAt: createdAt,
	}
}

func TestRankFallbackWithoutProfile(t *testing.T) {
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
	candidates := []core.ContentItem{
		item("later", nil, now.Add(48*time.Hour)),
		item("sooner", nil, now.Add(2*time.Hour)),
	}

	for _, profile := range []*core.UserProfile{
		nil,
		{TotalInteractions: 5, Embedding: []float64{1}},  // below threshold
		{TotalInteractions: 30},                          // no centroid
	} {
		ranked := Rank(candidates, profile, now, time.UTC)
		if ranked[0].Item.ID != "sooner" || ranked[1].Item.ID != "later" {
			t.Errorf("fallback order wrong: %s first", ranked[0].Item.ID)
		}
		for _, s := range ranked {
			if s.Score != 0 {
				t.Errorf("fallback scores must be zero, got %f", s.Score)
			}
		}
	}
}

func TestRankPrefersSimilarEmbedding(t *testing.T) {
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
	candidates := []core.ContentItem{
		item("orthogonal", []float64{0, 1, 0}, now.Add(time.Hour)),
		item("aligned", []float64{1, 0, 0}, now.Add(time.Hour)),
	}

	ranked := Rank(candidates, personalProfile(), now, time.UTC)
	if ranked[0].Item.ID != "aligned" {
		t.Fatalf("expected aligned first, got %s", ranked[0].Item.ID)
	}
	if ranked[0].Signal.Topic <= ranked[1].Signal.Topic {
		t.Error("topic signal should separate the candidates")
	}
}

func TestRankIsDeterministic(t *testing.T) {
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
	var candidates []core.ContentItem
	for i := 0; i < 10; i++ {
		candidates = append(candidates, item(string(rune('a'+i)), []float64{float64(i) / 10, 1, 0}, now.Add(time.Duration(i)*time.Hour)))
	}

	first := Rank(candidates, personalProfile(), now, time.UTC)
	second := Rank(candidates, personalProfile(), now, time.UTC)
	for i := range first {
		if first[i].Item.ID != second[i].Item.ID {
			t.Fatalf("rank order differs at %d", i)
		}
	}
}

func TestSignalRanges(t *testing.T) {
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
	profile := personalProfile()
	profile.EngagementStyle.IsDeepReader = true

	candidates := []core.ContentItem{
		{
			ID: "busy", Title: "A fairly long event title that deep readers supposedly enjoy reading in full",
			ContentType: core.ContentTypeEvent, Embedding: []float64{1, 0, 0},
			CreatedAt: now.Add(-6 * time.Hour),
			Stats:     core.ContentStats{Views: 100, Likes: 10, Shares: 5, Bookmarks: 4},
		},
		{
			ID: "unknown-type", Title: "X", ContentType: core.ContentType("mystery"),
			CreatedAt: now,
		},
	}

	ranked := Rank(candidates, profile, now, time.UTC)
	for _, s := range ranked {
		for name, value := range map[string]float64{
			"topic": s.Signal.Topic, "contentType": s.Signal.ContentType,
			"time": s.Signal.Time, "style": s.Signal.Style,
			"recency": s.Signal.Recency, "popularity": s.Signal.Popularity,
		} {
			if value < 0 || value > 1 {
				t.Errorf("%s signal out of range for %s: %f", name, s.Item.ID, value)
			}
		}
	}

	var busy Scored
	for _, s := range ranked {
		if s.Item.ID == "busy" {
			busy = s
		}
	}
	// (10 + 2*5 + 1.5*4) / 100 = 0.26 -> 0.26/0.2 capped at 1
	if busy.Signal.Popularity != 1 {
		t.Errorf("popularity = %f, want 1", busy.Signal.Popularity)
	}
	// exp(-6/24)
	if math.Abs(busy.Signal.Recency-math.Exp(-0.25)) > 1e-9 {
		t.Errorf("recency = %f", busy.Signal.Recency)
	}
	// affinity 0.6 -> (0.6+1)/2
	if math.Abs(busy.Signal.ContentType-0.8) > 1e-9 {
		t.Errorf("contentType = %f", busy.Signal.ContentType)
	}
	// evening bucket: 8 of 10
	if math.Abs(busy.Signal.Time-0.8) > 1e-9 {
		t.Errorf("time = %f", busy.Signal.Time)
	}
}

func TestTimeSignalUsesDisplayLocation(t *testing.T) {
	pacific, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatal(err)
	}
	// 02:00 UTC is 19:00 the previous day in Pacific: night in one zone,
	// evening in the other.
	now := time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC)
	candidates := []core.ContentItem{item("a", []float64{1, 0, 0}, now.Add(time.Hour))}

	local := Rank(candidates, personalProfile(), now, pacific)
	if math.Abs(local[0].Signal.Time-0.8) > 1e-9 {
		t.Errorf("pacific time signal = %f, want 0.8", local[0].Signal.Time)
	}
	utc := Rank(candidates, personalProfile(), now, time.UTC)
	if utc[0].Signal.Time != 0 {
		t.Errorf("utc time signal = %f, want 0", utc[0].Signal.Time)
	}
}

func TestApplyExplorationMixKeepsHead(t *testing.T) {
	var ranked []Scored
	for i := 0; i < 10; i++ {
		ranked = append(ranked, Scored{Item: core.ContentItem{ID: string(rune('a' + i))}, Score: float64(10 - i)})
	}

	mixed := ApplyExplorationMix(ranked, DefaultExploitRatio, rand.New(rand.NewSource(42)))
	if len(mixed) != len(ranked) {
		t.Fatalf("mix must not drop candidates: %d", len(mixed))
	}
	for i := 0; i < 8; i++ {
		if mixed[i].Item.ID != ranked[i].Item.ID {
			t.Errorf("head position %d changed", i)
		}
	}

	// same seed, same mix
	again := ApplyExplorationMix(ranked, DefaultExploitRatio, rand.New(rand.NewSource(42)))
	for i := range mixed {
		if mixed[i].Item.ID != again[i].Item.ID {
			t.Fatal("mix must be deterministic for a fixed seed")
		}
	}
}

func TestPageTokens(t *testing.T) {
	token := EncodePageToken(30)
	offset, err := DecodePageToken(token)
	if err != nil || offset != 30 {
		t.Fatalf("offset=%d err=%v", offset, err)
	}

	if offset, err := DecodePageToken(""); err != nil || offset != 0 {
		t.Errorf("empty token: offset=%d err=%v", offset, err)
	}

	for _, bad := range []string{"!!!", "bm90YW51bWJlcg==", EncodePageToken(-5)} {
		if _, err := DecodePageToken(bad); !errors.Is(err, core.ErrInvalidPageToken) {
			t.Errorf("token %q should be invalid", bad)
		}
	}
}

func TestPage(t *testing.T) {
	var ranked []Scored
	for i := 0; i < 25; i++ {
		ranked = append(ranked, Scored{Item: core.ContentItem{ID: string(rune('a' + i))}})
	}

	page, next := Page(ranked, 0, 10)
	if len(page) != 10 || next == "" {
		t.Fatalf("page=%d next=%q", len(page), next)
	}
	offset, _ := DecodePageToken(next)
	if offset != 10 {
		t.Errorf("next offset = %d", offset)
	}

	last, next := Page(ranked, 20, 10)
	if len(last) != 5 || next != "" {
		t.Errorf("last page: len=%d next=%q", len(last), next)
	}

	none, next := Page(ranked, 100, 10)
	if none != nil || next != "" {
		t.Errorf("past-the-end page should be empty")
	}
}
