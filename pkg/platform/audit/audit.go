// Package audit captures key domain actions as events. Services emit through
// a Publisher; events land in an outbox store and a relay worker ships them to
// Kafka, which downstream compliance tooling treats as the source of truth.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action identifies what happened.
type Action string

const (
	ActionSignalCreated     Action = "signal_created"
	ActionSignalAutoFlagged Action = "signal_auto_flagged"
	ActionStatusChanged     Action = "status_changed"
	ActionSignalModerated   Action = "signal_moderated"
	ActionVoteCast          Action = "vote_cast"
	ActionSignalsMerged     Action = "signals_merged"
)

// Event is emitted from domain logic. Keep it transport-agnostic so stores
// and sinks can fan out.
type Event struct {
	Action    Action
	SignalID  uuid.UUID
	Actor     string
	From      string
	To        string
	Reason    string
	RequestID string
	Timestamp time.Time
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}
