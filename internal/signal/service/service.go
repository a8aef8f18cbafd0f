// Package service composes scoring, deduplication, lifecycle, voting, and
// merging into the operations the transport layer consumes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"signalos/internal/signal/dedupe"
	"signalos/internal/signal/metrics"
	"signalos/internal/signal/models"
	"signalos/internal/signal/score"
	"signalos/internal/signal/trust"
	dErrors "signalos/pkg/domain-errors"
	"signalos/pkg/platform/audit"
	"signalos/pkg/platform/sentinel"
	"signalos/pkg/requestcontext"
)

// AutoFlagReason is the standard moderation reason stamped on signals caught
// by the anti-abuse heuristic at creation.
const AutoFlagReason = "Suspicious high urgency for very low population. Auto-flagged for review."

const (
	initialSubmissionReason = "Initial report submission"
	lifecycleReason         = "Standard lifecycle transition"

	// dedupeWindowSize bounds the candidate set for duplicate detection.
	// Comparison is pairwise O(n²); this bound is an operational requirement,
	// not a tuning knob.
	dedupeWindowSize = 100
)

// SignalStore is the persistence the service needs for signals.
type SignalStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Signal, error)
	FindByIDInCommunity(ctx context.Context, id, communityID uuid.UUID) (*models.Signal, error)
	ListByStatusNotIn(ctx context.Context, excluded []models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error)
	ListByStatus(ctx context.Context, status models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error)
	TopByStatus(ctx context.Context, status models.Status, communityID *uuid.UUID, limit int) ([]*models.Signal, error)
	Save(ctx context.Context, sig *models.Signal) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// VoteStore persists the vote ledger. Save must surface a uniqueness
// violation as sentinel.ErrConflict.
type VoteStore interface {
	FindByUserAndSignal(ctx context.Context, userID, signalID uuid.UUID) (*models.Vote, error)
	CountBySignal(ctx context.Context, signalID uuid.UUID) (int, error)
	Save(ctx context.Context, vote *models.Vote) error
}

// StatusHistoryStore appends and reads the immutable status audit trail.
type StatusHistoryStore interface {
	Append(ctx context.Context, entry *models.StatusEntry) error
	ListBySignal(ctx context.Context, signalID uuid.UUID) ([]*models.StatusEntry, error)
}

// IdentityResolver maps a username to a stable user ID.
type IdentityResolver interface {
	Resolve(ctx context.Context, username string) (uuid.UUID, error)
}

// TxRunner wraps a mutating operation in one atomic unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPublisher records domain actions; emission never fails the operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service is the prioritization facade.
type Service struct {
	signals  SignalStore
	votes    VoteStore
	history  StatusHistoryStore
	identity IdentityResolver
	txr      TxRunner

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
	tracer  trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

// New constructs the facade. All five collaborators are required.
func New(signals SignalStore, votes VoteStore, history StatusHistoryStore, identity IdentityResolver, txr TxRunner, opts ...Option) (*Service, error) {
	if signals == nil || votes == nil || history == nil || identity == nil || txr == nil {
		return nil, fmt.Errorf("signal service requires all stores, an identity resolver, and a tx runner")
	}
	s := &Service{
		signals:  signals,
		votes:    votes,
		history:  history,
		identity: identity,
		txr:      txr,
		tracer:   otel.Tracer("signalos/internal/signal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRequest carries the validated-at-the-boundary inputs for a new signal.
type CreateRequest struct {
	Title          string
	Description    string
	Category       string
	Urgency        int
	Impact         int
	AffectedPeople int
	Username       string
	CommunityID    *uuid.UUID
}

// Create builds, scores, auto-flag-checks, and persists a new signal.
// The anti-abuse check runs unconditionally before first persistence.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal.create")
	defer span.End()

	authorID, err := s.identity.Resolve(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "author user not found: "+req.Username)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve author")
	}

	now := requestcontext.Now(ctx)
	sig, err := models.NewSignal(req.Title, req.Description, req.Category,
		req.Urgency, req.Impact, req.AffectedPeople, authorID, req.CommunityID, now)
	if err != nil {
		return nil, err
	}

	autoFlagged := sig.Urgency == 5 && sig.AffectedPeople < 5
	if autoFlagged {
		sig.Status = models.StatusFlagged
		sig.ModerationReason = AutoFlagReason
	}

	scored := score.Apply(sig)

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.signals.Save(ctx, scored); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save signal")
		}
		if err := s.history.Append(ctx, newStatusEntry(scored.ID, models.StatusNone, models.StatusNew, req.Username, initialSubmissionReason, now)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append status entry")
		}
		if autoFlagged {
			// Second entry keeps the invariant that the newest entry's To
			// matches the signal's current status.
			if err := s.history.Append(ctx, newStatusEntry(scored.ID, models.StatusNew, models.StatusFlagged, "system", AutoFlagReason, now.Add(time.Microsecond))); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "append auto-flag entry")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SignalsCreated.Inc()
		if autoFlagged {
			s.metrics.SignalsAutoFlagged.Inc()
		}
	}
	if s.auditor != nil {
		s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionSignalCreated,
			SignalID:  scored.ID,
			Actor:     req.Username,
			To:        string(scored.Status),
			RequestID: requestcontext.RequestID(ctx),
		})
		if autoFlagged {
			s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionSignalAutoFlagged,
				SignalID:  scored.ID,
				Actor:     "system",
				Reason:    AutoFlagReason,
				RequestID: requestcontext.RequestID(ctx),
			})
		}
	}
	if s.logger != nil {
		if autoFlagged {
			s.logger.WarnContext(ctx, "auto-flagged signal on creation",
				"signal_id", scored.ID, "urgency", scored.Urgency, "affected_people", scored.AffectedPeople)
		} else {
			s.logger.InfoContext(ctx, "signal created", "signal_id", scored.ID, "score", scored.PriorityScore)
		}
	}
	return scored, nil
}

// Get fetches one signal with freshly derived score fields.
func (s *Service) Get(ctx context.Context, id uuid.UUID, communityID *uuid.UUID) (*models.Signal, error) {
	sig, err := s.findScoped(ctx, id, communityID)
	if err != nil {
		return nil, err
	}
	return score.Apply(sig), nil
}

// Page is an offset/limit window plus the total matching count.
type Page struct {
	Signals []*models.Signal
	Total   int
	Offset  int
	Limit   int
}

// ListPrioritized returns visible signals (everything except FLAGGED and
// REJECTED) ordered by priority, rescoring each item on the way out.
func (s *Service) ListPrioritized(ctx context.Context, communityID *uuid.UUID, offset, limit int) (*Page, error) {
	excluded := []models.Status{models.StatusFlagged, models.StatusRejected}
	signals, total, err := s.signals.ListByStatusNotIn(ctx, excluded, communityID, offset, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list signals")
	}
	return &Page{Signals: rescore(signals), Total: total, Offset: offset, Limit: limit}, nil
}

// ListFlagged returns the moderation queue.
func (s *Service) ListFlagged(ctx context.Context, offset, limit int) (*Page, error) {
	signals, total, err := s.signals.ListByStatus(ctx, models.StatusFlagged, nil, offset, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list flagged signals")
	}
	return &Page{Signals: rescore(signals), Total: total, Offset: offset, Limit: limit}, nil
}

// TopUnresolved returns the highest-priority NEW signals.
func (s *Service) TopUnresolved(ctx context.Context, limit int, communityID *uuid.UUID) ([]*models.Signal, error) {
	signals, err := s.signals.TopByStatus(ctx, models.StatusNew, communityID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list top signals")
	}
	return rescore(signals), nil
}

// CastVote records one vote per (user, signal). A duplicate attempt fails
// with a conflict whether it is caught by the pre-check or by the store's
// uniqueness constraint after a race.
func (s *Service) CastVote(ctx context.Context, signalID uuid.UUID, username string, communityID *uuid.UUID) (*models.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal.vote")
	defer span.End()

	userID, err := s.identity.Resolve(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found: "+username)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve user")
	}

	var voted *models.Signal
	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		sig, err := s.findScoped(ctx, signalID, communityID)
		if err != nil {
			return err
		}

		if _, err := s.votes.FindByUserAndSignal(ctx, userID, signalID); err == nil {
			return dErrors.New(dErrors.CodeConflict, "user has already supported this signal")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "check existing vote")
		}

		vote := &models.Vote{
			ID:        uuid.New(),
			UserID:    userID,
			SignalID:  signalID,
			CreatedAt: requestcontext.Now(ctx),
		}
		if err := s.votes.Save(ctx, vote); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				// Race window: both writers passed the pre-check; the store
				// constraint caught the second. Same conflict either way.
				return dErrors.New(dErrors.CodeConflict, "concurrent vote attempt detected and rejected")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "save vote")
		}

		sig.CommunityVotes++
		voted = score.Apply(sig)
		if err := s.signals.Save(ctx, voted); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save signal")
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.VoteConflicts.Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.VotesCast.Inc()
	}
	if s.auditor != nil {
		s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionVoteCast,
			SignalID:  signalID,
			Actor:     username,
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	return voted, nil
}

// UpdateStatus applies a lifecycle transition and appends a history entry.
func (s *Service) UpdateStatus(ctx context.Context, signalID uuid.UUID, to models.Status, actor string, communityID *uuid.UUID) (*models.Signal, error) {
	var updated *models.Signal
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		sig, err := s.findScoped(ctx, signalID, communityID)
		if err != nil {
			return err
		}

		from := sig.Status
		if !from.CanTransitionTo(to) {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("invalid transition from %s to %s", from, to))
		}

		sig.Status = to
		updated = score.Apply(sig)
		if err := s.signals.Save(ctx, updated); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save signal")
		}
		entry := newStatusEntry(signalID, from, to, actor, lifecycleReason, requestcontext.Now(ctx))
		if err := s.history.Append(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append status entry")
		}

		if s.auditor != nil {
			s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionStatusChanged,
				SignalID:  signalID,
				Actor:     actor,
				From:      string(from),
				To:        string(to),
				RequestID: requestcontext.RequestID(ctx),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "signal status updated",
			"signal_id", signalID, "status", string(updated.Status), "actor", actor)
	}
	return updated, nil
}

// ModerationAction selects the outcome of a moderation decision.
type ModerationAction string

const (
	ModerationApprove ModerationAction = "APPROVE"
	ModerationReject  ModerationAction = "REJECT"
)

// Moderate resolves a flagged signal: approve returns it to NEW, anything
// else rejects it. The decision and reason land in the status history.
func (s *Service) Moderate(ctx context.Context, signalID uuid.UUID, action ModerationAction, reason, actor string) (*models.Signal, error) {
	var moderated *models.Signal
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		sig, err := s.findScoped(ctx, signalID, nil)
		if err != nil {
			return err
		}

		from := sig.Status
		to := models.StatusRejected
		if action == ModerationApprove {
			to = models.StatusNew
		}

		sig.Status = to
		sig.ModerationReason = reason
		moderated = score.Apply(sig)
		if err := s.signals.Save(ctx, moderated); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save signal")
		}
		entry := newStatusEntry(signalID, from, to, actor, reason, requestcontext.Now(ctx))
		if err := s.history.Append(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append status entry")
		}

		if s.auditor != nil {
			s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionSignalModerated,
				SignalID:  signalID,
				Actor:     actor,
				From:      string(from),
				To:        string(to),
				Reason:    reason,
				RequestID: requestcontext.RequestID(ctx),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "signal moderated",
			"signal_id", signalID, "action", string(action), "actor", actor)
	}
	return moderated, nil
}

// FindDuplicates scans the bounded recent window of NEW signals and returns
// duplicate clusters keyed by representative ID. Invoked on demand; this core
// never schedules it.
func (s *Service) FindDuplicates(ctx context.Context, communityID *uuid.UUID) (map[uuid.UUID][]*models.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal.find_duplicates")
	defer span.End()

	window, err := s.signals.TopByStatus(ctx, models.StatusNew, communityID, dedupeWindowSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load dedupe window")
	}

	clusters := dedupe.FindDuplicates(window)

	if s.metrics != nil {
		s.metrics.DedupeRuns.Inc()
		s.metrics.DedupeClusters.Observe(float64(len(clusters)))
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "duplicate scan complete",
			"window", len(window), "clusters", len(clusters))
	}
	return clusters, nil
}

// Merge absorbs duplicates into the target: vote counts transfer, lineage is
// appended, duplicates are deleted, and the target is saved once with a
// recomputed score. Irreversible, and atomic: every duplicate is loaded and
// validated before the first write.
func (s *Service) Merge(ctx context.Context, targetID uuid.UUID, duplicateIDs []uuid.UUID, actor string) (*models.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal.merge")
	defer span.End()

	for _, dupID := range duplicateIDs {
		if dupID == targetID {
			return nil, dErrors.New(dErrors.CodeConflict, "target signal cannot be part of its own duplicates list")
		}
	}
	if len(duplicateIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "duplicate list must not be empty")
	}

	var merged *models.Signal
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		target, err := s.signals.FindByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "target signal not found: "+targetID.String())
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load target")
		}

		// Load everything before writing anything so a missing duplicate
		// cannot leave a half-merged target.
		duplicates := make([]*models.Signal, 0, len(duplicateIDs))
		for _, dupID := range duplicateIDs {
			dup, err := s.signals.FindByID(ctx, dupID)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					return dErrors.New(dErrors.CodeNotFound, "duplicate signal not found: "+dupID.String())
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "load duplicate")
			}
			duplicates = append(duplicates, dup)
		}

		for _, dup := range duplicates {
			target.CommunityVotes += dup.CommunityVotes
			target.MergedFrom = append(target.MergedFrom, dup.ID)
			if err := s.signals.Delete(ctx, dup.ID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "delete duplicate")
			}
		}

		merged = score.Apply(target)
		if err := s.signals.Save(ctx, merged); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save merged target")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MergesCompleted.Inc()
		s.metrics.SignalsAbsorbed.Add(float64(len(duplicateIDs)))
	}
	if s.auditor != nil {
		s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionSignalsMerged,
			SignalID:  targetID,
			Actor:     actor,
			Reason:    fmt.Sprintf("absorbed %d duplicates", len(duplicateIDs)),
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "signals merged",
			"target_id", targetID, "absorbed", len(duplicateIDs), "actor", actor)
	}
	return merged, nil
}

// TrustPacket builds the verifiable score snapshot for a signal.
func (s *Service) TrustPacket(ctx context.Context, signalID uuid.UUID) (*trust.Packet, error) {
	sig, err := s.findScoped(ctx, signalID, nil)
	if err != nil {
		return nil, err
	}
	packet := trust.NewPacket(sig)
	return &packet, nil
}

// StatusHistory returns a signal's lifecycle trail, newest first.
func (s *Service) StatusHistory(ctx context.Context, signalID uuid.UUID) ([]*models.StatusEntry, error) {
	if _, err := s.findScoped(ctx, signalID, nil); err != nil {
		return nil, err
	}
	entries, err := s.history.ListBySignal(ctx, signalID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list status history")
	}
	return entries, nil
}

func (s *Service) findScoped(ctx context.Context, id uuid.UUID, communityID *uuid.UUID) (*models.Signal, error) {
	var (
		sig *models.Signal
		err error
	)
	if communityID == nil {
		sig, err = s.signals.FindByID(ctx, id)
	} else {
		sig, err = s.signals.FindByIDInCommunity(ctx, id, *communityID)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "signal not found: "+id.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load signal")
	}
	return sig, nil
}

func rescore(signals []*models.Signal) []*models.Signal {
	out := make([]*models.Signal, len(signals))
	for i, sig := range signals {
		out[i] = score.Apply(sig)
	}
	return out
}

func newStatusEntry(signalID uuid.UUID, from, to models.Status, actor, reason string, at time.Time) *models.StatusEntry {
	return &models.StatusEntry{
		ID:        uuid.New(),
		SignalID:  signalID,
		From:      from,
		To:        to,
		ChangedBy: actor,
		Reason:    reason,
		CreatedAt: at,
	}
}
