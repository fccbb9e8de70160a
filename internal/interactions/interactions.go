// Package interactions records user actions, maintains pinned events and
// series, and tracks per-user bundle seen state.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/store"
)

// MaxBatchSize caps one interaction batch write.
const MaxBatchSize = 100

// Service is the interaction and pinned-events surface.
type Service struct {
	store      *store.Store
	displayLoc *time.Location
	now        func() time.Time
}

func New(st *store.Store, displayLoc *time.Location) *Service {
	if displayLoc == nil {
		displayLoc = time.UTC
	}
	return &Service{
		store:      st,
		displayLoc: displayLoc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordInteractions validates and writes a batch atomically, then runs
// the pin and bundle side effects as a concurrent fan-out. Validation
// failures reject the whole batch before anything is written.
func (s *Service) RecordInteractions(ctx context.Context, batch []core.UserInteraction) ([]string, error) {
	if len(batch) == 0 {
		return nil, core.NewValidationError("interactions", "at least one interaction is required")
	}
	if len(batch) > MaxBatchSize {
		return nil, core.NewValidationError("interactions", "batch exceeds %d interactions", MaxBatchSize)
	}

	now := s.now()
	ids := make([]string, len(batch))
	for i := range batch {
		if err := s.prepareInteraction(&batch[i], now); err != nil {
			return nil, err
		}
		ids[i] = batch[i].ID
	}

	if err := s.store.InsertInteractions(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to write interaction batch: %w", err)
	}

	s.fanOutSideEffects(ctx, batch)
	return ids, nil
}

// prepareInteraction validates one interaction and fills defaults.
func (s *Service) prepareInteraction(in *core.UserInteraction, now time.Time) error {
	if strings.TrimSpace(in.UserID) == "" {
		return core.NewValidationError("userId", "userId is required")
	}
	if strings.TrimSpace(in.ContentID) == "" {
		return core.NewValidationError("contentId", "contentId is required")
	}
	if !core.KnownContentTypes[in.ContentType] {
		return core.NewValidationError("contentType", "unknown content type %q", in.ContentType)
	}
	if _, ok := core.ActionWeights[in.Action]; !ok {
		return core.NewValidationError("action", "unknown action %q", in.Action)
	}
	if in.Context.Position < 0 {
		return core.NewValidationError("context.position", "position must be >= 0")
	}
	if in.Context.TimeOfDay != "" && !core.KnownTimesOfDay[in.Context.TimeOfDay] {
		return core.NewValidationError("context.timeOfDay", "unknown time of day %q", in.Context.TimeOfDay)
	}
	if in.Context.DayOfWeek != "" && !core.KnownDaysOfWeek[strings.ToLower(in.Context.DayOfWeek)] {
		return core.NewValidationError("context.dayOfWeek", "unknown day of week %q", in.Context.DayOfWeek)
	}
	if in.ContentType == core.ContentTypeBundle {
		if _, err := bundleStateFromMetadata(in.Metadata); err != nil {
			return err
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}
	return nil
}

// fanOutSideEffects applies pin toggles and bundle seen-marks after the
// batch commit. Each effect is independent; failures are logged, never
// surfaced to the client.
func (s *Service) fanOutSideEffects(ctx context.Context, batch []core.UserInteraction) {
	var wg sync.WaitGroup
	for _, in := range batch {
		in := in
		switch {
		case in.Action == core.ActionBookmarked &&
			(in.ContentType == core.ContentTypeEvent || in.ContentType == core.ContentTypeEventSeries):
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.applyPinToggle(ctx, in); err != nil {
					logger.Warn("Pin toggle failed", "user", in.UserID, "content", in.ContentID, "error", err)
				}
			}()
		case in.ContentType == core.ContentTypeBundle:
			wg.Add(1)
			go func() {
				defer wg.Done()
				state, err := bundleStateFromMetadata(in.Metadata)
				if err != nil {
					return
				}
				if err := s.store.MarkBundleSeen(ctx, in.UserID, state.CategoryID, state.Version, s.now()); err != nil {
					logger.Warn("Bundle mark-seen failed", "user", in.UserID, "category", state.CategoryID, "error", err)
				}
			}()
		}
	}
	wg.Wait()
}

// bundleStateFromMetadata extracts and validates metadata.bundleState.
func bundleStateFromMetadata(metadata map[string]any) (*core.BundleState, error) {
	invalid := func() error {
		return core.NewValidationError("metadata.bundleState",
			"metadata.bundleState must be provided with categoryId and version for event-category-bundle interactions")
	}
	if metadata == nil {
		return nil, invalid()
	}
	raw, ok := metadata["bundleState"].(map[string]any)
	if !ok {
		return nil, invalid()
	}
	categoryID, _ := raw["categoryId"].(string)
	if categoryID == "" {
		return nil, invalid()
	}
	version, ok := raw["version"].(float64)
	if !ok || version < 1 {
		return nil, invalid()
	}
	return &core.BundleState{CategoryID: categoryID, Version: int(version)}, nil
}

// applyPinToggle pins or unpins the bookmarked content. metadata.active
// defaults to true.
func (s *Service) applyPinToggle(ctx context.Context, in core.UserInteraction) error {
	active := true
	if value, ok := in.Metadata["active"].(bool); ok {
		active = value
	}

	switch in.ContentType {
	case core.ContentTypeEvent:
		if !active {
			return s.store.DeletePinnedEvent(ctx, in.UserID, in.ContentID)
		}
		_, err := s.pinEvent(ctx, in.UserID, in.ContentID)
		return err
	case core.ContentTypeEventSeries:
		if !active {
			return s.store.DeletePinnedSeries(ctx, in.UserID, in.ContentID)
		}
		return s.pinSeries(ctx, in.UserID, in.ContentID)
	default:
		return nil
	}
}

// pinEvent snapshots the event into a denormalized pin. Re-pinning
// refreshes the snapshot but keeps the original pin time.
func (s *Service) pinEvent(ctx context.Context, userID, eventID string) (*core.PinnedEvent, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("cannot pin %s: %w", eventID, err)
	}

	pinnedAt := s.now()
	if existing, err := s.store.GetPinnedEvent(ctx, userID, eventID); err == nil {
		pinnedAt = existing.PinnedAt
	}

	pin := &core.PinnedEvent{
		UserID:         userID,
		EventID:        event.ID,
		Title:          event.Title,
		Tags:           event.Tags,
		EventStartTime: event.StartTime,
		EventEndTime:   event.EndTime,
		ContentType:    core.ContentTypeEvent,
		Source:         event.Source,
		SeriesID:       event.SeriesID,
		PinnedAt:       pinnedAt,
	}
	if event.Venue != nil {
		pin.Location = venueLabel(event.Venue)
	}
	if event.SeriesID != "" {
		if series, err := s.store.GetSeries(ctx, event.SeriesID); err == nil {
			pin.SeriesTitle = series.Title
			pin.HostName = series.Host.Name
		}
	}
	if err := s.store.UpsertPinnedEvent(ctx, pin); err != nil {
		return nil, err
	}
	return pin, nil
}

func (s *Service) pinSeries(ctx context.Context, userID, seriesID string) error {
	series, err := s.store.GetSeries(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("cannot pin series %s: %w", seriesID, err)
	}
	return s.store.UpsertPinnedSeries(ctx, &core.PinnedSeries{
		UserID:   userID,
		SeriesID: series.ID,
		Title:    series.Title,
		HostName: series.Host.Name,
		Tags:     series.Tags,
		Source:   series.Source,
		PinnedAt: s.now(),
	})
}

func venueLabel(venue *core.Venue) string {
	if venue.Name != "" {
		return venue.Name
	}
	if venue.Address != "" {
		return venue.Address
	}
	return venue.RawLocation
}

// SetPin is the direct pin toggle behind POST /users/{userId}/pinned-events.
// Pinning returns the stored snapshot; unpinning returns nil.
func (s *Service) SetPin(ctx context.Context, userID, eventID string, pinned bool) (*core.PinnedEvent, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, core.NewValidationError("eventId", "eventId is required")
	}
	if !pinned {
		if err := s.store.DeletePinnedEvent(ctx, userID, eventID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	pin, err := s.pinEvent(ctx, userID, eventID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	return pin, err
}
