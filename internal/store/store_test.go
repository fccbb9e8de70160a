package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pulse/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(sourceID, sourceEventID, title string, start time.Time) *core.CanonicalEvent {
	return &core.CanonicalEvent{
		ID:            core.EventID(sourceID, sourceEventID),
		Title:         title,
		StartTime:     start,
		Source:        core.SourceRef{SourceID: sourceID, SourceEventID: sourceEventID},
		LastFetchedAt: start.Add(-24 * time.Hour),
		LastUpdatedAt: start.Add(-24 * time.Hour),
	}
}

func TestSaveEventAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	event := testEvent("s1", "e1", "Community Yoga in the Park", start)
	event.Tags = []string{"Yoga", " wellness ", "yoga", ""}

	created, err := s.SaveEvent(ctx, event, map[string]any{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if !created {
		t.Error("first save should report created")
	}

	stored, err := s.GetEvent(ctx, "s1:e1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if stored.Title != "Community Yoga in the Park" {
		t.Errorf("title = %q", stored.Title)
	}
	// lower-cased, trimmed, deduplicated, empties dropped
	if len(stored.Tags) != 2 || stored.Tags[0] != "wellness" || stored.Tags[1] != "yoga" {
		t.Errorf("tags = %v", stored.Tags)
	}

	created, err = s.SaveEvent(ctx, event, nil, stored)
	if err != nil {
		t.Fatalf("second SaveEvent failed: %v", err)
	}
	if created {
		t.Error("second save should report updated")
	}
}

func TestSaveEventTitleFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := testEvent("s1", "e2", "   ", time.Now().UTC())
	if _, err := s.SaveEvent(ctx, event, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	stored, err := s.GetEvent(ctx, "s1:e2")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if stored.Title != core.UntitledEvent {
		t.Errorf("title = %q, want %q", stored.Title, core.UntitledEvent)
	}
}

func TestGetEventNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetEvent(context.Background(), "missing:event"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchEventOnlyUpdatesFetchTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	event := testEvent("s1", "e1", "Trivia Night", start)
	if _, err := s.SaveEvent(ctx, event, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	touchedAt := start.Add(2 * time.Hour)
	if err := s.TouchEvent(ctx, "s1:e1", touchedAt); err != nil {
		t.Fatalf("TouchEvent failed: %v", err)
	}

	stored, _ := s.GetEvent(ctx, "s1:e1")
	if !stored.LastFetchedAt.Equal(touchedAt) {
		t.Errorf("lastFetchedAt = %s, want %s", stored.LastFetchedAt, touchedAt)
	}
	if stored.Title != "Trivia Night" {
		t.Error("touch must not alter other fields")
	}
}

func TestUpdateEventSeriesInfo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := testEvent("s1", "e1", "Salsa Social", time.Now().UTC().Add(time.Hour))
	if _, err := s.SaveEvent(ctx, event, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if err := s.UpdateEventSeriesInfo(ctx, "s1:e1", "host1__salsa-social", "category:abc", "Dance"); err != nil {
		t.Fatalf("UpdateEventSeriesInfo failed: %v", err)
	}

	stored, _ := s.GetEvent(ctx, "s1:e1")
	if stored.SeriesID != "host1__salsa-social" || stored.SeriesCategoryID != "category:abc" || stored.SeriesCategoryName != "Dance" {
		t.Errorf("series info not patched: %+v", stored)
	}
}

func TestListEventsInWindowHalfOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		event := testEvent("s1", fmt.Sprintf("e%d", i), fmt.Sprintf("Event %d", i), base.Add(time.Duration(i)*24*time.Hour))
		if _, err := s.SaveEvent(ctx, event, nil, nil); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	window := core.Window{Start: base, End: base.Add(48 * time.Hour)}
	events, err := s.ListEventsInWindow(ctx, window)
	if err != nil {
		t.Fatalf("ListEventsInWindow failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (end must be exclusive)", len(events))
	}
	if events[0].ID != "s1:e0" || events[1].ID != "s1:e1" {
		t.Errorf("wrong order: %s, %s", events[0].ID, events[1].ID)
	}
}

func TestBuildSeriesID(t *testing.T) {
	id := BuildSeriesID("host:abc123", "Community Yoga in the Park")
	if id != "host:abc123__community-yoga-in-the-park" {
		t.Errorf("BuildSeriesID = %q", id)
	}

	long := BuildSeriesID("host:abc123", strings.Repeat("very long title ", 30))
	if len(long) > 200 {
		t.Errorf("long id length = %d, want <= 200", len(long))
	}
	// determinism
	if long != BuildSeriesID("host:abc123", strings.Repeat("very long title ", 30)) {
		t.Error("BuildSeriesID must be deterministic")
	}
}

func TestAttachEventCreatesSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	event := testEvent("s1", "e1", "Community Yoga", now.Add(26*time.Hour))
	event.Tags = []string{"yoga", "wellness"}

	result, err := s.AttachEvent(ctx, event, AttachContext{
		HostID: "host:h1", HostName: "Parks Dept", SourceID: "s1",
	}, now)
	if err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}
	if !result.Created {
		t.Error("expected series creation")
	}

	series, err := s.GetSeries(ctx, result.SeriesID)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if series.Stats.UpcomingCount != 1 {
		t.Errorf("upcomingCount = %d, want 1", series.Stats.UpcomingCount)
	}
	if series.NextOccurrence == nil || series.NextOccurrence.EventID != "s1:e1" {
		t.Error("nextOccurrence not set")
	}
	if series.ContentType != core.ContentTypeEventSeries {
		t.Errorf("contentType = %s", series.ContentType)
	}
}

func TestAttachEventLinksStoredEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	attach := AttachContext{HostID: "host:h1", HostName: "Parks Dept", SourceID: "s1"}

	event := testEvent("s1", "e1", "Community Yoga", now.Add(26*time.Hour))
	if _, err := s.SaveEvent(ctx, event, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	result, err := s.AttachEvent(ctx, event, attach, now)
	if err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}

	stored, err := s.GetEvent(ctx, "s1:e1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if stored.SeriesID != result.SeriesID {
		t.Errorf("stored seriesId = %q, want %q", stored.SeriesID, result.SeriesID)
	}

	// once the series carries a category, later attaches back-fill it too
	if err := s.UpdateSeriesCategory(ctx, result.SeriesID, "category:c1", "Fitness", "fitness", now); err != nil {
		t.Fatalf("UpdateSeriesCategory failed: %v", err)
	}
	second := testEvent("s1", "e2", "Community Yoga", now.Add(50*time.Hour))
	if _, err := s.SaveEvent(ctx, second, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if _, err := s.AttachEvent(ctx, second, attach, now); err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}
	stored, _ = s.GetEvent(ctx, "s1:e2")
	if stored.SeriesCategoryID != "category:c1" || stored.SeriesCategoryName != "Fitness" {
		t.Errorf("category not back-filled: %+v", stored)
	}

	// attaching before the event document exists is fine; the caller writes
	// the event with its linkage afterwards
	unsaved := testEvent("s1", "e3", "Community Yoga", now.Add(74*time.Hour))
	if _, err := s.AttachEvent(ctx, unsaved, attach, now); err != nil {
		t.Fatalf("AttachEvent without stored event failed: %v", err)
	}
}

func TestAttachEventMergeSortEvictCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	attach := AttachContext{HostID: "host:h1", HostName: "Parks Dept", SourceID: "s1"}

	// stale occurrence, older than now-24h: must be evicted on next write
	stale := testEvent("s1", "old", "Community Yoga", now.Add(-48*time.Hour))
	if _, err := s.AttachEvent(ctx, stale, attach, now.Add(-72*time.Hour)); err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}

	// 25 future occurrences: window must cap at 20
	var seriesID string
	for i := 0; i < 25; i++ {
		event := testEvent("s1", fmt.Sprintf("e%02d", i), "Community Yoga", now.Add(time.Duration(i+1)*24*time.Hour))
		result, err := s.AttachEvent(ctx, event, attach, now)
		if err != nil {
			t.Fatalf("AttachEvent %d failed: %v", i, err)
		}
		seriesID = result.SeriesID
		if result.Created {
			t.Errorf("attach %d should not create a new series", i)
		}
	}

	series, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if len(series.UpcomingOccurrences) != core.MaxUpcomingOccurrences {
		t.Fatalf("occurrences = %d, want %d", len(series.UpcomingOccurrences), core.MaxUpcomingOccurrences)
	}
	for _, occ := range series.UpcomingOccurrences {
		if occ.EventID == "s1:old" {
			t.Error("stale occurrence should be evicted")
		}
	}
	for i := 1; i < len(series.UpcomingOccurrences); i++ {
		if series.UpcomingOccurrences[i].StartTime.Before(series.UpcomingOccurrences[i-1].StartTime) {
			t.Fatal("occurrences not sorted ascending")
		}
	}
	if series.Stats.UpcomingCount != core.MaxUpcomingOccurrences {
		t.Errorf("upcomingCount = %d", series.Stats.UpcomingCount)
	}
}

func TestAttachEventDeduplicatesByEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	attach := AttachContext{HostID: "host:h1", SourceID: "s1"}

	event := testEvent("s1", "e1", "Book Club", now.Add(24*time.Hour))
	if _, err := s.AttachEvent(ctx, event, attach, now); err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}

	// same event, new start time: latest wins, no duplicate
	event2 := testEvent("s1", "e1", "Book Club", now.Add(48*time.Hour))
	result, err := s.AttachEvent(ctx, event2, attach, now)
	if err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}

	series, _ := s.GetSeries(ctx, result.SeriesID)
	if len(series.UpcomingOccurrences) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(series.UpcomingOccurrences))
	}
	if !series.UpcomingOccurrences[0].StartTime.Equal(now.Add(48 * time.Hour)) {
		t.Error("latest occurrence should win")
	}
}

func TestAttachEventTieBreakByEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	attach := AttachContext{HostID: "host:h1", SourceID: "s1"}
	start := now.Add(24 * time.Hour)

	for _, id := range []string{"b-event", "a-event"} {
		event := testEvent("s1", id, "Open Mic", start)
		if _, err := s.AttachEvent(ctx, event, attach, now); err != nil {
			t.Fatalf("AttachEvent failed: %v", err)
		}
	}

	series, _ := s.GetSeries(ctx, BuildSeriesID("host:h1", "Open Mic"))
	if series.UpcomingOccurrences[0].EventID != "s1:a-event" {
		t.Errorf("tie-break order wrong: %s first", series.UpcomingOccurrences[0].EventID)
	}
}

func TestCategoryCreateAndBump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	seriesA := &core.EventSeries{ID: "h1__yoga", Title: "Yoga", Tags: []string{"yoga"}}
	category, err := s.CreateCategory(ctx, "host:h1", "Fitness & Movement", "", seriesA, now)
	if err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	if category.Version != 1 || len(category.ChangeLog) != 1 {
		t.Errorf("new category version=%d changeLog=%d", category.Version, len(category.ChangeLog))
	}

	seriesB := &core.EventSeries{ID: "h1__pilates", Title: "Pilates", Tags: []string{"pilates"}}
	updated, err := s.AddSeriesToCategory(ctx, category.ID, seriesB, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AddSeriesToCategory failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	last := updated.ChangeLog[len(updated.ChangeLog)-1]
	if last.Version != 2 || len(last.AddedSeriesIDs) != 1 || last.AddedSeriesIDs[0] != "h1__pilates" {
		t.Errorf("changeLog entry = %+v", last)
	}

	// re-adding the same series must not bump
	again, err := s.AddSeriesToCategory(ctx, category.ID, seriesB, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("AddSeriesToCategory failed: %v", err)
	}
	if again.Version != 2 {
		t.Errorf("version after no-op add = %d, want 2", again.Version)
	}
}

func TestCategoryChangeLogConsistency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	first := &core.EventSeries{ID: "h1__s0", Title: "S0"}
	category, err := s.CreateCategory(ctx, "host:h1", "Workshops", "", first, now)
	if err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	for i := 1; i <= 10; i++ {
		series := &core.EventSeries{ID: fmt.Sprintf("h1__s%d", i), Title: fmt.Sprintf("S%d", i)}
		if _, err := s.AddSeriesToCategory(ctx, category.ID, series, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("AddSeriesToCategory %d failed: %v", i, err)
		}
	}

	stored, _ := s.GetCategory(ctx, category.ID)
	if stored.Version != 11 {
		t.Errorf("version = %d, want 11", stored.Version)
	}
	// every series has a bump recording it
	added := map[string]bool{}
	for _, entry := range stored.ChangeLog {
		for _, id := range entry.AddedSeriesIDs {
			added[id] = true
		}
	}
	for _, id := range stored.SeriesIDs {
		if !added[id] {
			t.Errorf("series %s has no changeLog bump", id)
		}
	}
	// version always matches max changeLog version
	if stored.ChangeLog[len(stored.ChangeLog)-1].Version != stored.Version {
		t.Error("version and changeLog head disagree")
	}
}

func TestCategoryRemoveSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	series := &core.EventSeries{ID: "h1__yoga", Title: "Yoga"}
	category, err := s.CreateCategory(ctx, "host:h1", "Fitness", "", series, now)
	if err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	if err := s.RemoveSeriesFromCategory(ctx, category.ID, "h1__yoga", now); err != nil {
		t.Fatalf("RemoveSeriesFromCategory failed: %v", err)
	}

	stored, _ := s.GetCategory(ctx, category.ID)
	if len(stored.SeriesIDs) != 0 {
		t.Errorf("seriesIds = %v, want empty", stored.SeriesIDs)
	}
	if stored.Version != 1 {
		t.Error("removal must not bump the version")
	}
}

func TestTagProposalCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := s.RecordTagProposals(ctx, fmt.Sprintf("s1:e%d", i), fmt.Sprintf("Event %d", i), "s1", []string{"sourdough"}, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("RecordTagProposals failed: %v", err)
		}
	}
	if err := s.RecordTagProposals(ctx, "s2:e9", "Other", "s2", []string{"sourdough", "fermentation"}, now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordTagProposals failed: %v", err)
	}

	proposals, err := s.TopProposals(ctx, 10)
	if err != nil {
		t.Fatalf("TopProposals failed: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("proposals = %d, want 2", len(proposals))
	}
	top := proposals[0]
	if top.Slug != "sourdough" || top.OccurrenceCount != 4 {
		t.Errorf("top = %+v", top)
	}
	// occurrenceCount equals the sum of sourceCounts
	sum := 0
	for _, c := range top.SourceCounts {
		sum += c
	}
	if sum != top.OccurrenceCount {
		t.Errorf("sourceCounts sum %d != occurrenceCount %d", sum, top.OccurrenceCount)
	}
	if len(top.SampleEvents) != 4 {
		t.Errorf("samples = %d", len(top.SampleEvents))
	}
	if top.SampleEvents[0].EventID != "s2:e9" {
		t.Error("newest sample should be first")
	}
}

func TestTagProposalSampleDedupAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 8; i++ {
		eventID := fmt.Sprintf("s1:e%d", i%6) // e0..e5, two repeats
		if err := s.RecordTagProposals(ctx, eventID, "T", "s1", []string{"letterpress"}, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordTagProposals failed: %v", err)
		}
	}

	proposals, _ := s.TopProposals(ctx, 1)
	if len(proposals[0].SampleEvents) != core.MaxProposalSamples {
		t.Errorf("samples = %d, want %d", len(proposals[0].SampleEvents), core.MaxProposalSamples)
	}
}

func TestInteractionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var batch []core.UserInteraction
	for i := 0; i < 5; i++ {
		batch = append(batch, core.UserInteraction{
			ID:          fmt.Sprintf("in-%d", i),
			UserID:      "u1",
			ContentID:   "s1:e1",
			ContentType: core.ContentTypeEvent,
			Action:      core.ActionViewed,
			Timestamp:   now.Add(time.Duration(i) * time.Minute),
			Context:     core.InteractionContext{TimeOfDay: core.TimeOfDayMorning, DayOfWeek: "monday"},
		})
	}
	if err := s.InsertInteractions(ctx, batch); err != nil {
		t.Fatalf("InsertInteractions failed: %v", err)
	}

	recent, err := s.ListRecentInteractions(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("ListRecentInteractions failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d, want 3", len(recent))
	}
	if recent[0].ID != "in-4" {
		t.Errorf("newest first expected, got %s", recent[0].ID)
	}

	count, err := s.CountInteractions(ctx, "u1")
	if err != nil || count != 5 {
		t.Errorf("count = %d err = %v", count, err)
	}
}

func TestPinsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)

	pin := &core.PinnedEvent{
		UserID: "u1", EventID: "s1:e1", Title: "Gallery Night",
		EventStartTime: start, ContentType: core.ContentTypeEvent, PinnedAt: start.Add(-time.Hour),
	}
	if err := s.UpsertPinnedEvent(ctx, pin); err != nil {
		t.Fatalf("UpsertPinnedEvent failed: %v", err)
	}

	window := core.Window{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}
	pins, err := s.ListPinnedEventsInWindow(ctx, "u1", window)
	if err != nil || len(pins) != 1 {
		t.Fatalf("pins = %d err = %v", len(pins), err)
	}

	if err := s.DeletePinnedEvent(ctx, "u1", "s1:e1"); err != nil {
		t.Fatalf("DeletePinnedEvent failed: %v", err)
	}
	pins, _ = s.ListPinnedEventsInWindow(ctx, "u1", window)
	if len(pins) != 0 {
		t.Error("pin should be gone after delete")
	}
	// unpin of absent pin is a no-op
	if err := s.DeletePinnedEvent(ctx, "u1", "s1:e1"); err != nil {
		t.Errorf("double delete should not error: %v", err)
	}
}

func TestBundleStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.MarkBundleSeen(ctx, "u1", "category:abc", 3, now); err != nil {
		t.Fatalf("MarkBundleSeen failed: %v", err)
	}
	states, err := s.GetBundleStates(ctx, "u1", []string{"category:abc", "category:unseen"})
	if err != nil {
		t.Fatalf("GetBundleStates failed: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("states = %d, want 1", len(states))
	}
	if states["category:abc"].LastSeenVersion != 3 {
		t.Errorf("lastSeenVersion = %d", states["category:abc"].LastSeenVersion)
	}

	// seeing a later version overwrites
	if err := s.MarkBundleSeen(ctx, "u1", "category:abc", 5, now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkBundleSeen failed: %v", err)
	}
	states, _ = s.GetBundleStates(ctx, "u1", []string{"category:abc"})
	if states["category:abc"].LastSeenVersion != 5 {
		t.Errorf("lastSeenVersion = %d, want 5", states["category:abc"].LastSeenVersion)
	}
}
