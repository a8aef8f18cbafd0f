package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	dErrors "signalos/pkg/domain-errors"
)

// CreateSignalRequest is the wire shape for signal submission.
type CreateSignalRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Urgency        int        `json:"urgency"`
	Impact         int        `json:"impact"`
	AffectedPeople int        `json:"affectedPeople"`
	CommunityID    *uuid.UUID `json:"communityId,omitempty"`
}

// UpdateStatusRequest carries a lifecycle transition.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ModerateRequest carries a moderation decision for a flagged signal.
type ModerateRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// MergeRequest names the surviving signal and the duplicates to absorb.
type MergeRequest struct {
	TargetID     uuid.UUID   `json:"targetId"`
	DuplicateIDs []uuid.UUID `json:"duplicateIds"`
}

func pathID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid signal id: "+raw)
	}
	return id, nil
}

func queryCommunity(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("communityId")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid community id: "+raw)
	}
	return &id, nil
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
