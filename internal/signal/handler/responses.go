package handler

import (
	"time"

	"github.com/google/uuid"

	"signalos/internal/signal/models"
)

// SignalResponse is the wire shape of a signal, with the score breakdown
// included so clients never need to re-derive it.
type SignalResponse struct {
	ID               uuid.UUID              `json:"id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category"`
	Urgency          int                    `json:"urgency"`
	Impact           int                    `json:"impact"`
	AffectedPeople   int                    `json:"affectedPeople"`
	CommunityVotes   int                    `json:"communityVotes"`
	PriorityScore    float64                `json:"priorityScore"`
	ScoreBreakdown   ScoreBreakdownResponse `json:"scoreBreakdown"`
	Status           string                 `json:"status"`
	ModerationReason string                 `json:"moderationReason,omitempty"`
	MergedFrom       []uuid.UUID            `json:"mergedFrom,omitempty"`
	AuthorID         uuid.UUID              `json:"authorId"`
	CommunityID      *uuid.UUID             `json:"communityId,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// ScoreBreakdownResponse mirrors the per-component score contributions.
type ScoreBreakdownResponse struct {
	Urgency        float64 `json:"urgency"`
	Impact         float64 `json:"impact"`
	AffectedPeople float64 `json:"affectedPeople"`
	CommunityVotes float64 `json:"communityVotes"`
}

// PageResponse wraps a listing with offset pagination metadata.
type PageResponse struct {
	Signals []SignalResponse `json:"signals"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// StatusEntryResponse is one row of a signal's lifecycle trail.
type StatusEntryResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedBy string    `json:"changedBy"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changedAt"`
}

// DuplicateClusterResponse is one group of likely duplicates.
type DuplicateClusterResponse struct {
	RepresentativeID uuid.UUID        `json:"representativeId"`
	Duplicates       []SignalResponse `json:"duplicates"`
}

func fromSignal(sig *models.Signal) SignalResponse {
	return SignalResponse{
		ID:             sig.ID,
		Title:          sig.Title,
		Description:    sig.Description,
		Category:       sig.Category,
		Urgency:        sig.Urgency,
		Impact:         sig.Impact,
		AffectedPeople: sig.AffectedPeople,
		CommunityVotes: sig.CommunityVotes,
		PriorityScore:  sig.PriorityScore,
		ScoreBreakdown: ScoreBreakdownResponse{
			Urgency:        sig.Breakdown.Urgency,
			Impact:         sig.Breakdown.Impact,
			AffectedPeople: sig.Breakdown.AffectedPeople,
			CommunityVotes: sig.Breakdown.CommunityVotes,
		},
		Status:           string(sig.Status),
		ModerationReason: sig.ModerationReason,
		MergedFrom:       sig.MergedFrom,
		AuthorID:         sig.AuthorID,
		CommunityID:      sig.CommunityID,
		CreatedAt:        sig.CreatedAt,
	}
}

func fromSignals(signals []*models.Signal) []SignalResponse {
	out := make([]SignalResponse, len(signals))
	for i, sig := range signals {
		out[i] = fromSignal(sig)
	}
	return out
}

func fromEntries(entries []*models.StatusEntry) []StatusEntryResponse {
	out := make([]StatusEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = StatusEntryResponse{
			From:      string(e.From),
			To:        string(e.To),
			ChangedBy: e.ChangedBy,
			Reason:    e.Reason,
			ChangedAt: e.CreatedAt,
		}
	}
	return out
}
