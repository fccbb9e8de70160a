package tags

import (
	"reflect"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple word", "Yoga", "yoga"},
		{"phrase with spaces", "Community Yoga in the Park", "community-yoga-in-the-park"},
		{"punctuation collapsed", "Art & Crafts!!", "art-crafts"},
		{"leading trailing noise", "  --Salsa Night--  ", "salsa-night"},
		{"too short after slug", "DJ", ""},
		{"exactly min length", "jazz", "jazz"},
		{"unicode stripped", "café», crêpes", "caf-cr-pes"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.expected {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSlugifyIdempotent(t *testing.T) {
	inputs := []string{"Community Yoga", "art & crafts", "LIVE-music", "x y z w"}
	for _, in := range inputs {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Errorf("Slugify not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeFiltersStopWords(t *testing.T) {
	got := Normalize([]string{"Yoga", "event", "Free", "Wellness", "yoga", "Monday"})
	want := []string{"wellness", "yoga"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
}

func TestNormalizeSortedUnique(t *testing.T) {
	got := Normalize([]string{"zumba", "Aikido", "zumba", "aikido"})
	want := []string{"aikido", "zumba"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
}

func TestNormalizeBlocklist(t *testing.T) {
	got := Normalize([]string{"yoga", "pilates"}, "pilates")
	want := []string{"yoga"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize with blocklist = %v, want %v", got, want)
	}
}

func TestUnion(t *testing.T) {
	got := Union([]string{"yoga", "wellness"}, []string{"wellness", "fitness"})
	want := []string{"fitness", "wellness", "yoga"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
}

func TestIsStopWord(t *testing.T) {
	if !IsStopWord("event") {
		t.Error("expected 'event' to be a stop word")
	}
	if IsStopWord("yoga") {
		t.Error("did not expect 'yoga' to be a stop word")
	}
}
