package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pulse/internal/core"
)

// MaxProposalSlugsPerEvent caps how many slugs one event may contribute.
const MaxProposalSlugsPerEvent = 10

// RecordTagProposals increments occurrence counters for every slug an event
// produced. Each slug runs in its own transaction: count, per-source count
// and sample list stay consistent under concurrent ingests.
func (s *Store) RecordTagProposals(ctx context.Context, eventID, eventTitle, sourceID string, slugs []string, now time.Time) error {
	if len(slugs) > MaxProposalSlugsPerEvent {
		slugs = slugs[:MaxProposalSlugsPerEvent]
	}
	for _, slug := range slugs {
		if err := s.recordProposal(ctx, slug, eventID, eventTitle, sourceID, now); err != nil {
			return fmt.Errorf("failed to record proposal %q: %w", slug, err)
		}
	}
	return nil
}

func (s *Store) recordProposal(ctx context.Context, slug, eventID, eventTitle, sourceID string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT doc FROM tag_proposals WHERE slug = ?`+s.forUpdate()), slug,
		).Scan(&doc)

		var proposal core.TagProposal
		switch {
		case errors.Is(err, sql.ErrNoRows):
			proposal = core.TagProposal{
				Slug:         slug,
				Status:       "pending",
				SourceCounts: map[string]int{},
				FirstSeenAt:  now.UTC(),
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(doc), &proposal); err != nil {
				return fmt.Errorf("malformed stored proposal %s: %w", slug, err)
			}
			if proposal.SourceCounts == nil {
				proposal.SourceCounts = map[string]int{}
			}
		}

		proposal.OccurrenceCount++
		proposal.SourceCounts[sourceID]++
		proposal.LastSeenAt = now.UTC()
		proposal.SampleEvents = prependSample(proposal.SampleEvents, core.ProposalSample{
			EventID: eventID,
			Title:   eventTitle,
			SeenAt:  now.UTC(),
		})

		encoded, err := json.Marshal(&proposal)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO tag_proposals (slug, occurrence_count, last_seen_at, doc)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (slug) DO UPDATE SET
				occurrence_count = excluded.occurrence_count,
				last_seen_at = excluded.last_seen_at,
				doc = excluded.doc`),
			slug, proposal.OccurrenceCount, encodeTime(proposal.LastSeenAt), string(encoded))
		return err
	})
}

// prependSample puts the newest sample first, deduplicating by eventId and
// keeping at most MaxProposalSamples entries.
func prependSample(samples []core.ProposalSample, sample core.ProposalSample) []core.ProposalSample {
	kept := make([]core.ProposalSample, 0, len(samples)+1)
	kept = append(kept, sample)
	for _, existing := range samples {
		if existing.EventID == sample.EventID {
			continue
		}
		kept = append(kept, existing)
	}
	if len(kept) > core.MaxProposalSamples {
		kept = kept[:core.MaxProposalSamples]
	}
	return kept
}

// TopProposals returns pending proposals ordered by
// (occurrenceCount DESC, lastSeenAt DESC).
func (s *Store) TopProposals(ctx context.Context, limit int) ([]core.TagProposal, error) {
	rows, err := s.query(ctx, `
		SELECT doc FROM tag_proposals
		ORDER BY occurrence_count DESC, last_seen_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var out []core.TagProposal
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var proposal core.TagProposal
		if err := json.Unmarshal([]byte(doc), &proposal); err != nil {
			continue
		}
		if proposal.Status != "pending" {
			continue
		}
		out = append(out, proposal)
	}
	return out, rows.Err()
}
