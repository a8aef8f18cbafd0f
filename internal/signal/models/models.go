// Package models holds the civic signal domain entities. Raw inputs live on
// the entity; derived fields (score, breakdown) are recomputed by the scoring
// package on every read and never treated as stored truth.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "signalos/pkg/domain-errors"
)

const (
	TitleMinLen       = 5
	TitleMaxLen       = 150
	DescriptionMinLen = 10
	DescriptionMaxLen = 2000
)

// Signal is a citizen-submitted civic issue report.
type Signal struct {
	ID          uuid.UUID
	Title       string
	Description string
	Category    string

	// Raw scoring inputs. Urgency and Impact are 1-5; AffectedPeople and
	// CommunityVotes are non-negative counts. CommunityVotes is denormalized
	// from the vote ledger and adjusted by vote and merge operations.
	Urgency        int
	Impact         int
	AffectedPeople int
	CommunityVotes int

	// Derived fields. PriorityScore and Breakdown are a pure function of the
	// raw inputs; the service recomputes them on every read.
	PriorityScore float64
	Breakdown     ScoreBreakdown

	Status           Status
	ModerationReason string

	// MergedFrom records which duplicate signals this one absorbed. Append-only.
	MergedFrom []uuid.UUID

	AuthorID    uuid.UUID
	CommunityID *uuid.UUID
	CreatedAt   time.Time
}

// NewSignal validates raw inputs and builds a signal in the NEW state.
// Derived fields are left zero; the caller scores and persists it.
func NewSignal(title, description, category string, urgency, impact, affectedPeople int, authorID uuid.UUID, communityID *uuid.UUID, createdAt time.Time) (*Signal, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	category = strings.TrimSpace(category)

	if len(title) < TitleMinLen || len(title) > TitleMaxLen {
		return nil, dErrors.New(dErrors.CodeBadRequest, "title must be 5-150 characters")
	}
	if len(description) < DescriptionMinLen || len(description) > DescriptionMaxLen {
		return nil, dErrors.New(dErrors.CodeBadRequest, "description must be 10-2000 characters")
	}
	if category == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "category is required")
	}
	if urgency < 1 || urgency > 5 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "urgency must be between 1 and 5")
	}
	if impact < 1 || impact > 5 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "impact must be between 1 and 5")
	}
	if affectedPeople < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "affectedPeople must not be negative")
	}

	return &Signal{
		ID:             uuid.New(),
		Title:          title,
		Description:    description,
		Category:       category,
		Urgency:        urgency,
		Impact:         impact,
		AffectedPeople: affectedPeople,
		Status:         StatusNew,
		MergedFrom:     []uuid.UUID{},
		AuthorID:       authorID,
		CommunityID:    communityID,
		CreatedAt:      createdAt,
	}, nil
}

// ScoreBreakdown is the per-component view of a priority score. Immutable;
// always produced fresh by the scoring package.
type ScoreBreakdown struct {
	Urgency        float64
	Impact         float64
	AffectedPeople float64
	CommunityVotes float64
}

// Total sums the breakdown components.
func (b ScoreBreakdown) Total() float64 {
	return b.Urgency + b.Impact + b.AffectedPeople + b.CommunityVotes
}

// Vote records that a user supported a signal. At most one vote per
// (user, signal) pair ever exists; the store enforces that uniqueness.
type Vote struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SignalID  uuid.UUID
	CreatedAt time.Time
}

// StatusEntry is an append-only audit record of a status change.
type StatusEntry struct {
	ID        uuid.UUID
	SignalID  uuid.UUID
	From      Status
	To        Status
	ChangedBy string
	Reason    string
	CreatedAt time.Time
}
