// Package postgres implements the audit store with the transactional outbox
// pattern. Events are written to the outbox table inside the caller's
// transaction and relayed to Kafka by the relay worker, so an audit row is
// committed if and only if the business mutation is.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalos/pkg/platform/audit"
	txcontext "signalos/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	SignalID  string `json:"signalId"`
	Actor     string `json:"actor,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	payload := outboxPayload{
		ID:        eventID.String(),
		Action:    string(event.Action),
		SignalID:  event.SignalID.String(),
		Actor:     event.Actor,
		From:      event.From,
		To:        event.To,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		"signal",
		event.SignalID.String(),
		string(event.Action),
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
