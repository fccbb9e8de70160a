package core

import (
	"testing"
	"time"
)

func TestEventID(t *testing.T) {
	if got := EventID("s1", "e1"); got != "s1:e1" {
		t.Errorf("EventID = %q, want %q", got, "s1:e1")
	}
}

func TestTimeOfDayOf(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}

	tests := []struct {
		hour     int
		expected TimeOfDay
	}{
		{6, TimeOfDayMorning},
		{11, TimeOfDayMorning},
		{12, TimeOfDayAfternoon},
		{17, TimeOfDayAfternoon},
		{18, TimeOfDayEvening},
		{21, TimeOfDayEvening},
		{22, TimeOfDayNight},
		{2, TimeOfDayNight},
		{5, TimeOfDayNight},
	}

	for _, tt := range tests {
		local := time.Date(2026, 3, 10, tt.hour, 30, 0, 0, loc)
		if got := TimeOfDayOf(local.UTC(), loc); got != tt.expected {
			t.Errorf("TimeOfDayOf(hour=%d) = %s, want %s", tt.hour, got, tt.expected)
		}
	}
}

func TestDayWindowHalfOpen(t *testing.T) {
	loc, _ := time.LoadLocation("America/Los_Angeles")
	now := time.Date(2026, 6, 15, 22, 45, 0, 0, loc)

	w := DayWindow(now.UTC(), 1, loc)

	startLocal := w.Start.In(loc)
	if startLocal.Hour() != 0 || startLocal.Minute() != 0 {
		t.Errorf("window start should be local midnight, got %s", startLocal)
	}
	if !w.Contains(now.UTC()) {
		t.Error("window should contain now")
	}
	if w.Contains(w.End) {
		t.Error("window end must be exclusive")
	}
	if !w.Contains(w.Start) {
		t.Error("window start must be inclusive")
	}
	if got := w.End.Sub(w.Start); got != 24*time.Hour {
		t.Errorf("one-day window spans %s, want 24h", got)
	}
}

func TestWindowValidate(t *testing.T) {
	now := time.Now().UTC()
	bad := Window{Start: now, End: now}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty window")
	}
	good := Window{Start: now, End: now.Add(time.Hour)}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error for valid window: %v", err)
	}
}

func TestContentStatsAdd(t *testing.T) {
	a := ContentStats{Views: 1, Likes: 2, Shares: 3, Bookmarks: 4}
	b := ContentStats{Views: 10, Likes: 20, Shares: 30, Bookmarks: 40}
	got := a.Add(b)
	want := ContentStats{Views: 11, Likes: 22, Shares: 33, Bookmarks: 44}
	if got != want {
		t.Errorf("Add = %+v, want %+v", got, want)
	}
}

func TestActionWeightsCoverAllActions(t *testing.T) {
	actions := []InteractionAction{
		ActionViewed, ActionLiked, ActionShared, ActionBookmarked,
		ActionDismissed, ActionNotInterested, ActionAttended,
		ActionEngaged, ActionCommented,
	}
	for _, a := range actions {
		if _, ok := ActionWeights[a]; !ok {
			t.Errorf("no weight defined for action %s", a)
		}
	}
}

func TestSeriesContentItemUsesNextStart(t *testing.T) {
	next := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC)
	s := &EventSeries{
		ID:            "h__yoga",
		Title:         "Yoga",
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NextStartTime: &next,
	}
	item := SeriesContentItem(s)
	if !item.CreatedAt.Equal(next) {
		t.Errorf("CreatedAt = %s, want next start %s", item.CreatedAt, next)
	}
	if item.ContentType != ContentTypeEventSeries {
		t.Errorf("ContentType = %s", item.ContentType)
	}
}
