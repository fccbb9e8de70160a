package profile

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"pulse/internal/core"
	"pulse/internal/store"
)

func newBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func interaction(id string, action core.InteractionAction, contentID string, ts time.Time) core.UserInteraction {
	return core.UserInteraction{
		ID: id, UserID: "u1", ContentID: contentID, ContentType: core.ContentTypeEvent,
		Action: action, Timestamp: ts,
		Context: core.InteractionContext{TimeOfDay: core.TimeOfDayEvening, DayOfWeek: "friday"},
	}
}

func TestMeanVector(t *testing.T) {
	got := MeanVector([][]float64{{1, 2, 3}, {3, 4, 5}})
	want := []float64{2, 3, 4}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("MeanVector = %v, want %v", got, want)
		}
	}
	if MeanVector(nil) != nil {
		t.Error("empty input should yield nil")
	}
	// mismatched lengths are skipped, not averaged
	got = MeanVector([][]float64{{2, 4}, {1, 2, 3}})
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("mismatched vectors: %v", got)
	}
}

func TestBuildUserProfileEmpty(t *testing.T) {
	builder, _ := newBuilder(t)
	profile, err := builder.BuildUserProfile(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("BuildUserProfile failed: %v", err)
	}
	if profile.TotalInteractions != 0 || profile.Embedding != nil {
		t.Errorf("profile = %+v", profile)
	}
}

func TestBuildUserProfileAffinityAndCentroid(t *testing.T) {
	builder, st := newBuilder(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)

	// two events with vectors, one liked and one bookmarked
	for i, vector := range [][]float64{{1, 0, 1}, {0, 2, 1}} {
		event := &core.CanonicalEvent{
			ID:        fmt.Sprintf("s1:e%d", i),
			Title:     fmt.Sprintf("Event %d", i),
			StartTime: now.Add(24 * time.Hour),
			Vector:    vector,
			Source:    core.SourceRef{SourceID: "s1", SourceEventID: fmt.Sprintf("e%d", i)},
		}
		if _, err := st.SaveEvent(ctx, event, nil, nil); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	batch := []core.UserInteraction{
		interaction("i1", core.ActionLiked, "s1:e0", now),
		interaction("i2", core.ActionBookmarked, "s1:e1", now.Add(time.Minute)),
		interaction("i3", core.ActionViewed, "s1:e0", now.Add(2*time.Minute)),
		interaction("i4", core.ActionDismissed, "s1:e1", now.Add(3*time.Minute)),
	}
	if err := st.InsertInteractions(ctx, batch); err != nil {
		t.Fatalf("InsertInteractions failed: %v", err)
	}

	profile, err := builder.BuildUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("BuildUserProfile failed: %v", err)
	}
	if profile.TotalInteractions != 4 {
		t.Errorf("totalInteractions = %d", profile.TotalInteractions)
	}
	if !profile.LastActiveAt.Equal(now.Add(3 * time.Minute)) {
		t.Errorf("lastActiveAt = %s", profile.LastActiveAt)
	}

	// (3 + 4 + 0.1 - 2) / 4 / 10 = 0.1275
	affinity := profile.ContentTypeAffinity[core.ContentTypeEvent]
	if math.Abs(affinity-0.1275) > 1e-9 {
		t.Errorf("affinity = %f", affinity)
	}

	// centroid of the liked and bookmarked vectors
	want := []float64{0.5, 1, 1}
	if len(profile.Embedding) != 3 {
		t.Fatalf("embedding = %v", profile.Embedding)
	}
	for i := range want {
		if math.Abs(profile.Embedding[i]-want[i]) > 1e-9 {
			t.Fatalf("embedding = %v, want %v", profile.Embedding, want)
		}
	}

	if profile.TimeOfDayPatterns[core.TimeOfDayEvening] != 4 {
		t.Errorf("timeOfDay histogram = %v", profile.TimeOfDayPatterns)
	}
}

func TestAffinityClamped(t *testing.T) {
	interactions := []core.UserInteraction{
		{ContentType: core.ContentTypeEvent, Action: core.ActionNotInterested},
		{ContentType: core.ContentTypeEvent, Action: core.ActionNotInterested},
	}
	// the scaled value stays inside [-1,1] no matter the history
	for i := 0; i < 50; i++ {
		interactions = append(interactions, core.UserInteraction{ContentType: core.ContentTypePoll, Action: core.ActionAttended})
	}
	affinity := contentTypeAffinity(interactions)
	if affinity[core.ContentTypeEvent] < -1 || affinity[core.ContentTypePoll] > 1 {
		t.Errorf("affinity out of range: %v", affinity)
	}
}

func TestEngagementStyle(t *testing.T) {
	deep := engagementStyle([]core.UserInteraction{
		{DwellTime: 15, Context: core.InteractionContext{Position: 25}},
		{DwellTime: 11, Context: core.InteractionContext{Position: 30}},
	})
	if !deep.IsDeepReader || deep.QuickBrowser || !deep.ScrollsDeep {
		t.Errorf("deep = %+v", deep)
	}

	quick := engagementStyle([]core.UserInteraction{
		{DwellTime: 1, Context: core.InteractionContext{Position: 2}},
		{DwellTime: 2, Context: core.InteractionContext{Position: 3}},
	})
	if quick.IsDeepReader || !quick.QuickBrowser || quick.ScrollsDeep {
		t.Errorf("quick = %+v", quick)
	}

	// no dwell data: neither deep nor quick
	none := engagementStyle([]core.UserInteraction{{Context: core.InteractionContext{Position: 5}}})
	if none.IsDeepReader || none.QuickBrowser {
		t.Errorf("none = %+v", none)
	}
}

func TestHasEnoughData(t *testing.T) {
	builder, st := newBuilder(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enough, err := builder.HasEnoughData(ctx, "u1")
	if err != nil || enough {
		t.Fatalf("enough=%v err=%v", enough, err)
	}

	var batch []core.UserInteraction
	for i := 0; i < MinInteractionsForPersonalization; i++ {
		batch = append(batch, interaction(fmt.Sprintf("i%d", i), core.ActionViewed, "s1:e1", now.Add(time.Duration(i)*time.Second)))
	}
	if err := st.InsertInteractions(ctx, batch); err != nil {
		t.Fatalf("InsertInteractions failed: %v", err)
	}

	enough, err = builder.HasEnoughData(ctx, "u1")
	if err != nil || !enough {
		t.Errorf("enough=%v err=%v", enough, err)
	}
}
