package core

import "time"

// ContentType identifies the kind of content an item or interaction refers to.
type ContentType string

const (
	ContentTypeEvent        ContentType = "event"
	ContentTypeEventSeries  ContentType = "event-series"
	ContentTypeBundle       ContentType = "event-category-bundle"
	ContentTypeFlashOffer   ContentType = "flash-offer"
	ContentTypePoll         ContentType = "poll"
	ContentTypeRequest      ContentType = "request"
	ContentTypePhoto        ContentType = "photo"
	ContentTypeAnnouncement ContentType = "announcement"
)

// KnownContentTypes is the set of content types accepted on interactions.
var KnownContentTypes = map[ContentType]bool{
	ContentTypeEvent:        true,
	ContentTypeEventSeries:  true,
	ContentTypeBundle:       true,
	ContentTypeFlashOffer:   true,
	ContentTypePoll:         true,
	ContentTypeRequest:      true,
	ContentTypePhoto:        true,
	ContentTypeAnnouncement: true,
}

// InteractionAction is a user action recorded against a piece of content.
type InteractionAction string

const (
	ActionViewed        InteractionAction = "viewed"
	ActionLiked         InteractionAction = "liked"
	ActionShared        InteractionAction = "shared"
	ActionBookmarked    InteractionAction = "bookmarked"
	ActionDismissed     InteractionAction = "dismissed"
	ActionNotInterested InteractionAction = "not-interested"
	ActionAttended      InteractionAction = "attended"
	ActionEngaged       InteractionAction = "engaged"
	ActionCommented     InteractionAction = "commented"
)

// ActionWeights maps each interaction action to the scalar used when
// deriving user profiles. Negative weights push content types away.
var ActionWeights = map[InteractionAction]float64{
	ActionViewed:        0.1,
	ActionLiked:         3,
	ActionShared:        5,
	ActionBookmarked:    4,
	ActionDismissed:     -2,
	ActionNotInterested: -5,
	ActionAttended:      10,
	ActionEngaged:       4,
	ActionCommented:     4,
}

// PositiveActions are the actions whose content vectors contribute to the
// user's embedding centroid.
var PositiveActions = map[InteractionAction]bool{
	ActionLiked:      true,
	ActionBookmarked: true,
	ActionShared:     true,
	ActionAttended:   true,
	ActionEngaged:    true,
}

// Venue describes where an event takes place.
type Venue struct {
	Name        string `json:"name,omitempty"`
	Address     string `json:"address,omitempty"`
	RawLocation string `json:"rawLocation,omitempty"`
}

// SourceRef identifies the upstream origin of an event. The canonical event
// id is "{sourceId}:{sourceEventId}" and can always be reversed from it.
type SourceRef struct {
	SourceID      string `json:"sourceId"`
	SourceEventID string `json:"sourceEventId"`
	SourceURL     string `json:"sourceUrl,omitempty"`
}

// Breadcrumb is one entry in an event's append-only audit chain.
type Breadcrumb struct {
	Type          string            `json:"type"`
	SourceID      string            `json:"sourceId"`
	SourceEventID string            `json:"sourceEventId"`
	FetchedAt     time.Time         `json:"fetchedAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// MaxBreadcrumbs caps the audit chain on events and series.
const MaxBreadcrumbs = 20

// CandidateSource says which subsystem proposed a tag candidate.
type CandidateSource string

const (
	CandidateSourceLLM       CandidateSource = "llm"
	CandidateSourceEmbedding CandidateSource = "embedding"
	CandidateSourceKeyword   CandidateSource = "keyword"
)

// TagCandidate is a single proposed tag with its confidence and provenance.
type TagCandidate struct {
	Tag        string          `json:"tag"`
	Confidence float64         `json:"confidence"`
	Rationale  string          `json:"rationale,omitempty"`
	Source     CandidateSource `json:"source"`
}

// Classification holds the outcome of the tag-classification phase.
type Classification struct {
	Tags       []string          `json:"tags,omitempty"`
	Candidates []TagCandidate    `json:"candidates,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CanonicalEvent is the normalized form every source adapter produces.
// Identity is "{sourceId}:{sourceEventId}". Created and rewritten whole by
// the event store; series/category fields are merge-patched after attach.
type CanonicalEvent struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	TimeZone       string          `json:"timeZone,omitempty"`
	IsAllDay       bool            `json:"isAllDay,omitempty"`
	Venue          *Venue          `json:"venue,omitempty"`
	Organizer      string          `json:"organizer,omitempty"`
	Price          string          `json:"price,omitempty"`
	Status         string          `json:"status,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Vector         []float64       `json:"vector,omitempty"`
	Breadcrumbs    []Breadcrumb    `json:"breadcrumbs,omitempty"`
	Source         SourceRef       `json:"source"`
	LastFetchedAt  time.Time       `json:"lastFetchedAt"`
	LastUpdatedAt  time.Time       `json:"lastUpdatedAt"`

	SeriesID           string `json:"seriesId,omitempty"`
	SeriesCategoryID   string `json:"seriesCategoryId,omitempty"`
	SeriesCategoryName string `json:"seriesCategoryName,omitempty"`
}

// UntitledEvent is the title fallback for events arriving without one.
const UntitledEvent = "Untitled Event"

// EventID builds the canonical event id from a source reference.
func EventID(sourceID, sourceEventID string) string {
	return sourceID + ":" + sourceEventID
}

// Occurrence is one upcoming instance of a series, denormalized from the
// member event.
type Occurrence struct {
	EventID   string     `json:"eventId"`
	Title     string     `json:"title"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Location  string     `json:"location,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
}

// SeriesHost describes the host a series belongs to.
type SeriesHost struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Organizer string   `json:"organizer,omitempty"`
	SourceIDs []string `json:"sourceIds,omitempty"`
}

// SeriesStats carries aggregate counters for a series.
type SeriesStats struct {
	UpcomingCount int `json:"upcomingCount"`
}

// MaxUpcomingOccurrences caps the rolling occurrence window on a series.
const MaxUpcomingOccurrences = 20

// EventSeries clusters recurring events sharing (host, title). Identity is
// "{hostId}__{slug(title)}", truncated at 200 chars with a hashed tail.
type EventSeries struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	Description         string       `json:"description,omitempty"`
	Summary             string       `json:"summary,omitempty"`
	ContentType         ContentType  `json:"contentType"`
	Host                SeriesHost   `json:"host"`
	Tags                []string     `json:"tags,omitempty"`
	Breadcrumbs         []Breadcrumb `json:"breadcrumbs,omitempty"`
	Source              SourceRef    `json:"source"`
	Venue               *Venue       `json:"venue,omitempty"`
	CategoryID          string       `json:"categoryId,omitempty"`
	CategoryName        string       `json:"categoryName,omitempty"`
	CategorySlug        string       `json:"categorySlug,omitempty"`
	UpcomingOccurrences []Occurrence `json:"upcomingOccurrences,omitempty"`
	NextOccurrence      *Occurrence  `json:"nextOccurrence,omitempty"`
	NextStartTime       *time.Time   `json:"nextStartTime,omitempty"`
	Vector              []float64    `json:"vector,omitempty"`
	Stats               SeriesStats  `json:"stats"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// CategoryChange is one changeLog entry on a category. Every version bump
// past 1 records exactly the series added in that bump.
type CategoryChange struct {
	Version           int       `json:"version"`
	AddedSeriesIDs    []string  `json:"addedSeriesIds"`
	AddedSeriesTitles []string  `json:"addedSeriesTitles,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

const (
	// MaxCategoryChangeLog caps the retained changeLog entries.
	MaxCategoryChangeLog = 25
	// MaxCategoryTags caps the tag union stored on a category.
	MaxCategoryTags = 50
	// MaxCategorySamples caps the sample series titles on a category.
	MaxCategorySamples = 8
)

// EventCategory groups a host's series into a user-facing bucket. Identity
// is "category:{hash12(hostId:name-lowercased)}". Version is monotonic and
// bumps by one whenever a series not already present is added.
type EventCategory struct {
	ID                 string           `json:"id"`
	HostID             string           `json:"hostId"`
	Name               string           `json:"name"`
	Slug               string           `json:"slug"`
	Description        string           `json:"description,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	SampleSeriesTitles []string         `json:"sampleSeriesTitles,omitempty"`
	SeriesIDs          []string         `json:"seriesIds"`
	Version            int              `json:"version"`
	ChangeLog          []CategoryChange `json:"changeLog"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// HasSeries reports whether the category already contains the series.
func (c *EventCategory) HasSeries(seriesID string) bool {
	for _, id := range c.SeriesIDs {
		if id == seriesID {
			return true
		}
	}
	return false
}

// TimeOfDay is the four-bucket local-clock classification of a timestamp.
type TimeOfDay string

const (
	TimeOfDayMorning   TimeOfDay = "morning"
	TimeOfDayAfternoon TimeOfDay = "afternoon"
	TimeOfDayEvening   TimeOfDay = "evening"
	TimeOfDayNight     TimeOfDay = "night"
)

// KnownTimesOfDay is the accepted set on interaction context.
var KnownTimesOfDay = map[TimeOfDay]bool{
	TimeOfDayMorning:   true,
	TimeOfDayAfternoon: true,
	TimeOfDayEvening:   true,
	TimeOfDayNight:     true,
}

// KnownDaysOfWeek is the accepted set on interaction context.
var KnownDaysOfWeek = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// InteractionContext captures where and when an interaction happened.
type InteractionContext struct {
	Position  int       `json:"position"`
	SessionID string    `json:"sessionId,omitempty"`
	TimeOfDay TimeOfDay `json:"timeOfDay"`
	DayOfWeek string    `json:"dayOfWeek"`
}

// UserInteraction is one recorded user action.
type UserInteraction struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	ContentID   string             `json:"contentId"`
	ContentType ContentType        `json:"contentType"`
	Action      InteractionAction  `json:"action"`
	DwellTime   float64            `json:"dwellTime,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Context     InteractionContext `json:"context"`
	ContentTags []string           `json:"contentTags,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// EngagementStyle summarizes how a user consumes content.
type EngagementStyle struct {
	IsDeepReader bool    `json:"isDeepReader"`
	QuickBrowser bool    `json:"quickBrowser"`
	ScrollsDeep  bool    `json:"scrollsDeep"`
	AvgDwellTime float64 `json:"avgDwellTime"`
	AvgPosition  float64 `json:"avgPosition"`
}

// UserProfile is derived from interaction history; it is computed on demand
// and never stored long-term.
type UserProfile struct {
	UserID              string                  `json:"userId"`
	Embedding           []float64               `json:"embedding,omitempty"`
	ContentTypeAffinity map[ContentType]float64 `json:"contentTypeAffinity"`
	TimeOfDayPatterns   map[TimeOfDay]int       `json:"timeOfDayPatterns"`
	EngagementStyle     EngagementStyle         `json:"engagementStyle"`
	TotalInteractions   int                     `json:"totalInteractions"`
	LastActiveAt        time.Time               `json:"lastActiveAt"`
}

// PinnedEvent is a per-(user,event) denormalized pin snapshot. Derived
// entries come from pinned series and are never stored.
type PinnedEvent struct {
	UserID         string      `json:"userId"`
	EventID        string      `json:"eventId"`
	Title          string      `json:"title"`
	Location       string      `json:"location,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	EventStartTime time.Time   `json:"eventStartTime"`
	EventEndTime   *time.Time  `json:"eventEndTime,omitempty"`
	ContentType    ContentType `json:"contentType"`
	Source         SourceRef   `json:"source"`
	SeriesID       string      `json:"seriesId,omitempty"`
	SeriesTitle    string      `json:"seriesTitle,omitempty"`
	HostName       string      `json:"hostName,omitempty"`
	PinnedAt       time.Time   `json:"pinnedAt"`
	Derived        bool        `json:"derived,omitempty"`
}

// PinnedSeries is a per-(user,series) pin snapshot.
type PinnedSeries struct {
	UserID   string    `json:"userId"`
	SeriesID string    `json:"seriesId"`
	Title    string    `json:"title"`
	HostName string    `json:"hostName,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Source   SourceRef `json:"source"`
	PinnedAt time.Time `json:"pinnedAt"`
}

// UserCategoryBundleState tracks the last category version a user has seen.
type UserCategoryBundleState struct {
	UserID          string    `json:"userId"`
	CategoryID      string    `json:"categoryId"`
	LastSeenVersion int       `json:"lastSeenVersion"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
}

// ProposalSample is one example event attached to a tag proposal.
type ProposalSample struct {
	EventID string    `json:"eventId"`
	Title   string    `json:"title"`
	SeenAt  time.Time `json:"seenAt"`
}

// MaxProposalSamples caps the sample events kept per proposal.
const MaxProposalSamples = 5

// TagProposal accumulates per-slug occurrence counts so recurring candidate
// tags can be promoted by an operator later.
type TagProposal struct {
	Slug            string           `json:"slug"`
	Status          string           `json:"status"`
	OccurrenceCount int              `json:"occurrenceCount"`
	SourceCounts    map[string]int   `json:"sourceCounts"`
	SampleEvents    []ProposalSample `json:"sampleEvents,omitempty"`
	FirstSeenAt     time.Time        `json:"firstSeenAt"`
	LastSeenAt      time.Time        `json:"lastSeenAt"`
}

// RawEventPayload is one raw item fetched from a source before
// normalization. Raw is an opaque snapshot kept for auditability.
type RawEventPayload struct {
	SourceID      string         `json:"sourceId"`
	SourceEventID string         `json:"sourceEventId"`
	FetchedAt     time.Time      `json:"fetchedAt"`
	Raw           map[string]any `json:"raw"`
}

// HostContext is the host identity derived during normalization.
// HostIDSeed is deterministic: two events from the same organizer on the
// same source always yield the same seed.
type HostContext struct {
	HostIDSeed string `json:"hostIdSeed"`
	HostName   string `json:"hostName"`
	Organizer  string `json:"organizer,omitempty"`
}
