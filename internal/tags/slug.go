// Package tags implements the slug and stop-word policy applied to every
// tag before it reaches a stored event, series or category.
package tags

import (
	"regexp"
	"sort"
	"strings"
)

// MinSlugLength is the shortest slug accepted as a tag.
const MinSlugLength = 4

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases the input, collapses runs of non-alphanumerics to a
// single hyphen and trims leading/trailing hyphens. Results shorter than
// MinSlugLength are rejected as "". Slugify is idempotent.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) < MinSlugLength {
		return ""
	}
	return s
}

// IsStopWord reports whether slug is on the generic-term blocklist.
func IsStopWord(slug string) bool {
	return stopWords[slug]
}

// Normalize slugifies, stop-word-filters, deduplicates and sorts a raw tag
// list. Extra per-deployment blocked slugs may be passed in.
func Normalize(raw []string, blocked ...string) []string {
	extra := map[string]bool{}
	for _, b := range blocked {
		extra[b] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range raw {
		slug := Slugify(t)
		if slug == "" || stopWords[slug] || extra[slug] || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Union merges tag lists into a sorted-unique slice without re-filtering;
// inputs are assumed to already be normalized.
func Union(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, t := range list {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// stopWords is the fixed blocklist of generic terms that never survive as
// event tags: calendar noise, filler adverbs and genre-generic nouns that
// would otherwise dominate every classification.
var stopWords = buildStopWords(
	// days and months
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
	"sunday", "weekday", "weekend", "weekly", "daily", "monthly", "yearly",
	"january", "february", "march", "april", "june", "july", "august",
	"september", "october", "november", "december", "springtime",
	"summer", "autumn", "winter", "season", "seasonal", "holiday", "holidays",
	// time-of-day noise
	"morning", "afternoon", "evening", "night", "noon", "midnight",
	"tonight", "today", "tomorrow", "upcoming", "recurring", "ongoing",
	"hourly", "schedule", "scheduled", "time", "date", "dates",
	// genre-generic nouns
	"event", "events", "class", "classes", "session", "sessions",
	"meeting", "meetings", "gathering", "gatherings", "activity",
	"activities", "program", "programs", "programme", "series",
	"occasion", "occasions", "happening", "happenings", "function",
	"functions", "thing", "things", "stuff", "item", "items",
	"workshop-series", "group", "groups", "club", "clubs", "team", "teams",
	"organization", "organizations", "community", "communities", "people",
	"person", "everyone", "anyone", "somebody", "member", "members",
	"public", "local", "locals", "neighborhood", "area", "place", "places",
	"venue", "venues", "location", "locations", "space", "spaces", "room",
	"rooms", "hall", "halls", "center", "centre", "building", "site",
	// audience filler
	"adult", "adults", "kids", "child", "children", "youth", "senior",
	"seniors", "family", "families", "friend", "friends", "beginner",
	"beginners", "intermediate", "advanced", "levels", "ages", "welcome",
	"everybody", "attendee", "attendees", "participant", "participants",
	"guest", "guests", "visitor", "visitors", "audience",
	// filler adjectives and adverbs
	"free", "paid", "cheap", "cost", "costs", "price", "prices", "ticket",
	"tickets", "admission", "register", "registration", "signup", "rsvp",
	"open", "closed", "available", "featured", "popular", "special",
	"general", "various", "misc", "miscellaneous", "other", "others",
	"really", "very", "great", "good", "best", "better", "nice", "fun",
	"exciting", "amazing", "awesome", "interesting", "cool", "new",
	"annual", "first", "second", "third", "last", "next", "more", "most",
	"some", "many", "much", "info", "information", "details", "detail",
	"description", "note", "notes", "update", "updates", "announcement",
	"announcements", "reminder", "reminders", "news", "online", "virtual",
	"in-person", "hybrid", "zoom", "stream", "streaming", "link", "links",
	"website", "email", "contact", "phone", "call", "calls", "question",
	"questions", "help", "support", "please", "thanks", "thank-you",
	"join", "join-us", "come", "bring", "meet", "meetup", "attend",
	"attending", "hosted", "hosting", "host", "hosts", "presented",
	"presenting", "sponsor", "sponsors", "sponsored", "partner",
	"partners", "volunteer", "volunteers", "donation", "donations",
	"drop-in", "walk-in", "all-ages", "all-levels", "everyone-welcome",
)

func buildStopWords(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
