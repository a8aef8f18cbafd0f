package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"signalos/internal/signal/models"
	"signalos/pkg/platform/sentinel"
	txcontext "signalos/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresSignalStore persists signals in PostgreSQL. All methods honor a
// transaction carried in the context so multi-store operations stay atomic.
type PostgresSignalStore struct {
	db *sql.DB
}

func NewPostgresSignalStore(db *sql.DB) *PostgresSignalStore {
	return &PostgresSignalStore{db: db}
}

func (s *PostgresSignalStore) execer(ctx context.Context) dbtx {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const signalColumns = `id, title, description, category, urgency, impact, affected_people,
	community_votes, priority_score, status, moderation_reason, merged_from,
	author_id, community_id, created_at`

func (s *PostgresSignalStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Signal, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	return scanSignal(row)
}

func (s *PostgresSignalStore) FindByIDInCommunity(ctx context.Context, id, communityID uuid.UUID) (*models.Signal, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1 AND community_id = $2`, id, communityID)
	return scanSignal(row)
}

func (s *PostgresSignalStore) ListByStatusNotIn(ctx context.Context, excluded []models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error) {
	statuses := statusStrings(excluded)

	var total int
	countQuery := `SELECT COUNT(*) FROM signals WHERE status <> ALL($1) AND ($2::uuid IS NULL OR community_id = $2)`
	if err := s.execer(ctx).QueryRowContext(ctx, countQuery, pq.Array(statuses), communityID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count signals: %w", err)
	}

	query := `SELECT ` + signalColumns + ` FROM signals
		WHERE status <> ALL($1) AND ($2::uuid IS NULL OR community_id = $2)
		ORDER BY priority_score DESC, created_at DESC
		OFFSET $3 LIMIT $4`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(statuses), communityID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	signals, err := collectSignals(rows)
	if err != nil {
		return nil, 0, err
	}
	return signals, total, nil
}

func (s *PostgresSignalStore) ListByStatus(ctx context.Context, status models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM signals WHERE status = $1 AND ($2::uuid IS NULL OR community_id = $2)`
	if err := s.execer(ctx).QueryRowContext(ctx, countQuery, string(status), communityID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count signals: %w", err)
	}

	query := `SELECT ` + signalColumns + ` FROM signals
		WHERE status = $1 AND ($2::uuid IS NULL OR community_id = $2)
		ORDER BY priority_score DESC, created_at DESC
		OFFSET $3 LIMIT $4`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(status), communityID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list signals by status: %w", err)
	}
	defer rows.Close()

	signals, err := collectSignals(rows)
	if err != nil {
		return nil, 0, err
	}
	return signals, total, nil
}

func (s *PostgresSignalStore) TopByStatus(ctx context.Context, status models.Status, communityID *uuid.UUID, limit int) ([]*models.Signal, error) {
	top, _, err := s.ListByStatus(ctx, status, communityID, 0, limit)
	return top, err
}

func (s *PostgresSignalStore) Save(ctx context.Context, sig *models.Signal) error {
	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			urgency = EXCLUDED.urgency,
			impact = EXCLUDED.impact,
			affected_people = EXCLUDED.affected_people,
			community_votes = EXCLUDED.community_votes,
			priority_score = EXCLUDED.priority_score,
			status = EXCLUDED.status,
			moderation_reason = EXCLUDED.moderation_reason,
			merged_from = EXCLUDED.merged_from
	`
	merged := make([]string, len(sig.MergedFrom))
	for i, id := range sig.MergedFrom {
		merged[i] = id.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		sig.ID, sig.Title, sig.Description, sig.Category,
		sig.Urgency, sig.Impact, sig.AffectedPeople,
		sig.CommunityVotes, sig.PriorityScore, string(sig.Status),
		nullString(sig.ModerationReason), pq.Array(merged),
		sig.AuthorID, sig.CommunityID, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

func (s *PostgresSignalStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM signals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete signal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete signal: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	var (
		sig         models.Signal
		status      string
		reason      sql.NullString
		merged      pq.StringArray
		communityID uuid.NullUUID
	)
	err := row.Scan(
		&sig.ID, &sig.Title, &sig.Description, &sig.Category,
		&sig.Urgency, &sig.Impact, &sig.AffectedPeople,
		&sig.CommunityVotes, &sig.PriorityScore, &status,
		&reason, &merged, &sig.AuthorID, &communityID, &sig.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan signal: %w", err)
	}

	sig.Status = models.Status(status)
	sig.ModerationReason = reason.String
	sig.MergedFrom = make([]uuid.UUID, 0, len(merged))
	for _, raw := range merged {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse merged_from entry: %w", err)
		}
		sig.MergedFrom = append(sig.MergedFrom, id)
	}
	if communityID.Valid {
		cid := communityID.UUID
		sig.CommunityID = &cid
	}
	return &sig, nil
}

func collectSignals(rows *sql.Rows) ([]*models.Signal, error) {
	var signals []*models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return signals, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresVoteStore persists votes. The votes_user_signal_unique constraint is
// the authoritative guard against double voting; a violation surfaces as
// sentinel.ErrConflict so the service reports the same conflict whether the
// duplicate was caught before or during the insert.
type PostgresVoteStore struct {
	db *sql.DB
}

func NewPostgresVoteStore(db *sql.DB) *PostgresVoteStore {
	return &PostgresVoteStore{db: db}
}

func (s *PostgresVoteStore) execer(ctx context.Context) dbtx {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresVoteStore) FindByUserAndSignal(ctx context.Context, userID, signalID uuid.UUID) (*models.Vote, error) {
	var v models.Vote
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, user_id, signal_id, created_at FROM votes WHERE user_id = $1 AND signal_id = $2`,
		userID, signalID,
	).Scan(&v.ID, &v.UserID, &v.SignalID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find vote: %w", err)
	}
	return &v, nil
}

func (s *PostgresVoteStore) CountBySignal(ctx context.Context, signalID uuid.UUID) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE signal_id = $1`, signalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return count, nil
}

func (s *PostgresVoteStore) Save(ctx context.Context, vote *models.Vote) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO votes (id, user_id, signal_id, created_at) VALUES ($1, $2, $3, $4)`,
		vote.ID, vote.UserID, vote.SignalID, vote.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}

// PostgresStatusHistoryStore appends and reads the status audit trail.
// Entries are never updated or deleted.
type PostgresStatusHistoryStore struct {
	db *sql.DB
}

func NewPostgresStatusHistoryStore(db *sql.DB) *PostgresStatusHistoryStore {
	return &PostgresStatusHistoryStore{db: db}
}

func (s *PostgresStatusHistoryStore) execer(ctx context.Context) dbtx {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStatusHistoryStore) Append(ctx context.Context, entry *models.StatusEntry) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO signal_status_history (id, signal_id, status_from, status_to, changed_by, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.SignalID, string(entry.From), string(entry.To),
		entry.ChangedBy, nullString(entry.Reason), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append status entry: %w", err)
	}
	return nil
}

func (s *PostgresStatusHistoryStore) ListBySignal(ctx context.Context, signalID uuid.UUID) ([]*models.StatusEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT id, signal_id, status_from, status_to, changed_by, reason, created_at
		 FROM signal_status_history WHERE signal_id = $1 ORDER BY created_at DESC`,
		signalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StatusEntry
	for rows.Next() {
		var (
			entry  models.StatusEntry
			from   string
			to     string
			reason sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.SignalID, &from, &to, &entry.ChangedBy, &reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status entry: %w", err)
		}
		entry.From = models.Status(from)
		entry.To = models.Status(to)
		entry.Reason = reason.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return entries, nil
}
