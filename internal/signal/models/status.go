package models

import (
	"strings"

	dErrors "signalos/pkg/domain-errors"
)

// Status is the closed lifecycle state of a signal.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusFlagged    Status = "FLAGGED"
	StatusRejected   Status = "REJECTED"

	// StatusNone only appears as the From side of a signal's first history
	// entry. It is not a valid signal status and ParseStatus rejects it.
	StatusNone Status = "NONE"
)

// ParseStatus converts an external status string into a Status, rejecting
// anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusNew:
		return StatusNew, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusFlagged:
		return StatusFlagged, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown status: "+s)
	}
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// RESOLVED and REJECTED are terminal. FLAGGED may only go back to NEW
// (moderation approve) or on to REJECTED (moderation reject). Every other
// state may move anywhere; operators are deliberately given that freedom.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusResolved || s == StatusRejected {
		return false
	}
	if s == StatusFlagged {
		return next == StatusNew || next == StatusRejected
	}
	return true
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}
