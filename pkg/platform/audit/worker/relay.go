// Package worker relays committed outbox rows to Kafka. It is the only
// component that talks to the broker; services never block on Kafka.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Relay polls the outbox for unpublished rows and produces them to Kafka.
// Rows are marked published only after the broker acknowledges, so a crash
// between produce and mark can redeliver; consumers must dedupe on event ID.
type Relay struct {
	db        *sql.DB
	client    *kgo.Client
	topic     string
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Option configures the Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithInterval(interval time.Duration) Option {
	return func(r *Relay) { r.interval = interval }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

func NewRelay(db *sql.DB, client *kgo.Client, topic string, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		client:    client,
		topic:     topic,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.relayBatch(ctx); err != nil && r.logger != nil {
				r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id      uuid.UUID
	key     string
	payload []byte
}

func (r *Relay) relayBatch(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, payload FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return fmt.Errorf("select outbox rows: %w", err)
	}

	var batch []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.key, &row.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	rows.Close()

	if len(batch) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(batch))
	ids := make([]uuid.UUID, len(batch))
	for i, row := range batch {
		records[i] = &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.key),
			Value: row.payload,
		}
		ids[i] = row.id
	}
	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit records: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET published_at = now() WHERE id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(ids)),
	); err != nil {
		return fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox tx: %w", err)
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "relayed audit events", "count", len(batch))
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
