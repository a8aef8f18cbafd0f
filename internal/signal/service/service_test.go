package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signalos/internal/signal/models"
	"signalos/internal/signal/store"
	"signalos/internal/signal/trust"
	dErrors "signalos/pkg/domain-errors"
	"signalos/pkg/platform/audit"
	auditpublisher "signalos/pkg/platform/audit/publisher"
	auditmemory "signalos/pkg/platform/audit/store/memory"
	"signalos/pkg/platform/sentinel"
)

type stubIdentity struct {
	mu    sync.Mutex
	users map[string]uuid.UUID
}

func newStubIdentity(usernames ...string) *stubIdentity {
	s := &stubIdentity{users: make(map[string]uuid.UUID)}
	for _, u := range usernames {
		s.users[u] = uuid.New()
	}
	return s
}

func (s *stubIdentity) Resolve(_ context.Context, username string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.users[username]
	if !ok {
		return uuid.Nil, sentinel.ErrNotFound
	}
	return id, nil
}

type ServiceSuite struct {
	suite.Suite
	svc      *Service
	signals  *store.MemorySignalStore
	votes    *store.MemoryVoteStore
	history  *store.MemoryStatusHistoryStore
	identity *stubIdentity
	audits   *auditmemory.InMemoryStore
	ctx      context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.signals = store.NewMemorySignalStore()
	s.votes = store.NewMemoryVoteStore()
	s.history = store.NewMemoryStatusHistoryStore()
	s.identity = newStubIdentity("alice", "bob", "carol", "moderator")
	s.audits = auditmemory.NewInMemoryStore()
	s.ctx = context.Background()

	svc, err := New(s.signals, s.votes, s.history, s.identity, store.NewMemoryTxRunner(),
		WithAuditPublisher(auditpublisher.New(s.audits)))
	s.Require().NoError(err)
	s.svc = svc
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) createReq(title string) CreateRequest {
	return CreateRequest{
		Title:          title,
		Description:    "A description long enough for validation.",
		Category:       "roads",
		Urgency:        3,
		Impact:         4,
		AffectedPeople: 120,
		Username:       "alice",
	}
}

func (s *ServiceSuite) mustCreate(title string) *models.Signal {
	sig, err := s.svc.Create(s.ctx, s.createReq(title))
	s.Require().NoError(err)
	return sig
}

func (s *ServiceSuite) TestNewRejectsNilCollaborators() {
	_, err := New(nil, s.votes, s.history, s.identity, store.NewMemoryTxRunner())
	s.Require().Error(err)
}

func (s *ServiceSuite) TestCreate() {
	s.Run("scores and persists a valid submission", func() {
		sig := s.mustCreate("Pothole on Main Street")

		s.Equal(models.StatusNew, sig.Status)
		s.InDelta(90+100+12+0, sig.PriorityScore, 1e-9)
		s.InDelta(sig.Breakdown.Total(), sig.PriorityScore, 1e-9)

		entries, err := s.svc.StatusHistory(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(models.StatusNone, entries[0].From)
		s.Equal(models.StatusNew, entries[0].To)
		s.Equal("Initial report submission", entries[0].Reason)
		s.Equal("alice", entries[0].ChangedBy)
	})

	s.Run("rejects an unknown author", func() {
		req := s.createReq("Pothole on Main Street")
		req.Username = "nobody"
		_, err := s.svc.Create(s.ctx, req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejects invalid input before persistence", func() {
		req := s.createReq("Pot")
		_, err := s.svc.Create(s.ctx, req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("records an audit event", func() {
		before := len(s.audits.Events())
		s.mustCreate("Streetlight out on Oak Avenue")
		events := s.audits.Events()
		s.Require().Greater(len(events), before)
		s.Equal(audit.ActionSignalCreated, events[len(events)-1].Action)
	})
}

func (s *ServiceSuite) TestAutoFlag() {
	req := s.createReq("Emergency on my street")
	req.Urgency = 5
	req.AffectedPeople = 4

	sig, err := s.svc.Create(s.ctx, req)
	s.Require().NoError(err)

	s.Run("flags high urgency with tiny population", func() {
		s.Equal(models.StatusFlagged, sig.Status)
		s.Equal(AutoFlagReason, sig.ModerationReason)
	})

	s.Run("history shows both the submission and the flag", func() {
		entries, err := s.svc.StatusHistory(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(models.StatusFlagged, entries[0].To)
		s.Equal("system", entries[0].ChangedBy)
		s.Equal(AutoFlagReason, entries[0].Reason)
		s.Equal(models.StatusNone, entries[1].From)
	})

	s.Run("boundary population of five is not flagged", func() {
		req := s.createReq("Emergency on another street")
		req.Urgency = 5
		req.AffectedPeople = 5
		sig, err := s.svc.Create(s.ctx, req)
		s.Require().NoError(err)
		s.Equal(models.StatusNew, sig.Status)
	})

	s.Run("urgency four is never flagged", func() {
		req := s.createReq("Urgent but plausible report")
		req.Urgency = 4
		req.AffectedPeople = 0
		sig, err := s.svc.Create(s.ctx, req)
		s.Require().NoError(err)
		s.Equal(models.StatusNew, sig.Status)
	})
}

func (s *ServiceSuite) TestListPrioritized() {
	visible := s.mustCreate("Pothole on Main Street")

	flaggedReq := s.createReq("Suspicious urgent report")
	flaggedReq.Urgency = 5
	flaggedReq.AffectedPeople = 0
	_, err := s.svc.Create(s.ctx, flaggedReq)
	s.Require().NoError(err)

	page, err := s.svc.ListPrioritized(s.ctx, nil, 0, 10)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
	s.Require().Len(page.Signals, 1)
	s.Equal(visible.ID, page.Signals[0].ID)
}

func (s *ServiceSuite) TestListFlagged() {
	req := s.createReq("Suspicious urgent report")
	req.Urgency = 5
	req.AffectedPeople = 0
	flagged, err := s.svc.Create(s.ctx, req)
	s.Require().NoError(err)
	s.mustCreate("Ordinary pothole report")

	page, err := s.svc.ListFlagged(s.ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
	s.Require().Len(page.Signals, 1)
	s.Equal(flagged.ID, page.Signals[0].ID)
}

func (s *ServiceSuite) TestCastVote() {
	sig := s.mustCreate("Pothole on Main Street")

	s.Run("increments the vote count and rescores", func() {
		voted, err := s.svc.CastVote(s.ctx, sig.ID, "bob", nil)
		s.Require().NoError(err)
		s.Equal(1, voted.CommunityVotes)
		s.InDelta(sig.PriorityScore+0.2, voted.PriorityScore, 1e-9)
	})

	s.Run("rejects a second vote from the same user", func() {
		_, err := s.svc.CastVote(s.ctx, sig.ID, "bob", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("different users may each vote once", func() {
		voted, err := s.svc.CastVote(s.ctx, sig.ID, "carol", nil)
		s.Require().NoError(err)
		s.Equal(2, voted.CommunityVotes)
	})

	s.Run("unknown signal", func() {
		_, err := s.svc.CastVote(s.ctx, uuid.New(), "bob", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown user", func() {
		_, err := s.svc.CastVote(s.ctx, sig.ID, "nobody", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestConcurrentVotes() {
	sig := s.mustCreate("Pothole on Main Street")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.CastVote(s.ctx, sig.ID, "bob", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		}
	}
	s.Equal(1, succeeded, "exactly one vote lands")

	current, err := s.svc.Get(s.ctx, sig.ID, nil)
	s.Require().NoError(err)
	s.Equal(1, current.CommunityVotes)
}

func (s *ServiceSuite) TestUpdateStatus() {
	sig := s.mustCreate("Pothole on Main Street")

	s.Run("applies a permitted transition and records it", func() {
		updated, err := s.svc.UpdateStatus(s.ctx, sig.ID, models.StatusInProgress, "operator", nil)
		s.Require().NoError(err)
		s.Equal(models.StatusInProgress, updated.Status)

		entries, err := s.svc.StatusHistory(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusInProgress, entries[0].To)
		s.Equal("Standard lifecycle transition", entries[0].Reason)
	})

	s.Run("rejects transitions out of a terminal state", func() {
		_, err := s.svc.UpdateStatus(s.ctx, sig.ID, models.StatusResolved, "operator", nil)
		s.Require().NoError(err)

		_, err = s.svc.UpdateStatus(s.ctx, sig.ID, models.StatusNew, "operator", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("failed transition leaves no history entry", func() {
		entries, err := s.svc.StatusHistory(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Len(entries, 3)
	})
}

func (s *ServiceSuite) TestModerate() {
	newFlagged := func() *models.Signal {
		req := s.createReq("Suspicious urgent report")
		req.Urgency = 5
		req.AffectedPeople = 0
		sig, err := s.svc.Create(s.ctx, req)
		s.Require().NoError(err)
		return sig
	}

	s.Run("approve returns the signal to the public feed", func() {
		sig := newFlagged()
		moderated, err := s.svc.Moderate(s.ctx, sig.ID, ModerationApprove, "verified with reporter", "moderator")
		s.Require().NoError(err)
		s.Equal(models.StatusNew, moderated.Status)
		s.Equal("verified with reporter", moderated.ModerationReason)
	})

	s.Run("reject is terminal", func() {
		sig := newFlagged()
		moderated, err := s.svc.Moderate(s.ctx, sig.ID, ModerationReject, "spam", "moderator")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, moderated.Status)

		_, err = s.svc.UpdateStatus(s.ctx, sig.ID, models.StatusNew, "operator", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("decision lands in the status history", func() {
		sig := newFlagged()
		_, err := s.svc.Moderate(s.ctx, sig.ID, ModerationReject, "duplicate account", "moderator")
		s.Require().NoError(err)

		entries, err := s.svc.StatusHistory(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, entries[0].To)
		s.Equal("duplicate account", entries[0].Reason)
		s.Equal("moderator", entries[0].ChangedBy)
	})
}

func (s *ServiceSuite) TestFindDuplicates() {
	a := s.mustCreate("Pothole on Main Street near school")
	b := s.mustCreate("Pothole at Main St near the school")
	s.mustCreate("Streetlight out on Oak Avenue")

	clusters, err := s.svc.FindDuplicates(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(clusters, 1)

	// The higher-scoring signal leads the window; with equal scores the
	// newest comes first and wins representation.
	var rep uuid.UUID
	for id := range clusters {
		rep = id
	}
	s.Contains([]uuid.UUID{a.ID, b.ID}, rep)
	s.Len(clusters[rep], 1)
}

func (s *ServiceSuite) TestMerge() {
	target := s.mustCreate("Pothole on Main Street near school")
	dup1 := s.mustCreate("Pothole at Main St near the school")
	dup2 := s.mustCreate("pothole main street near school!!")

	_, err := s.svc.CastVote(s.ctx, dup1.ID, "bob", nil)
	s.Require().NoError(err)
	_, err = s.svc.CastVote(s.ctx, dup2.ID, "carol", nil)
	s.Require().NoError(err)

	s.Run("absorbs votes and lineage, deletes duplicates", func() {
		merged, err := s.svc.Merge(s.ctx, target.ID, []uuid.UUID{dup1.ID, dup2.ID}, "moderator")
		s.Require().NoError(err)

		s.Equal(2, merged.CommunityVotes)
		s.ElementsMatch([]uuid.UUID{dup1.ID, dup2.ID}, merged.MergedFrom)
		s.InDelta(target.PriorityScore+0.4, merged.PriorityScore, 1e-9)

		_, err = s.svc.Get(s.ctx, dup1.ID, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.svc.Get(s.ctx, dup2.ID, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("self-merge is rejected", func() {
		_, err := s.svc.Merge(s.ctx, target.ID, []uuid.UUID{target.ID}, "moderator")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("empty duplicate list is rejected", func() {
		_, err := s.svc.Merge(s.ctx, target.ID, nil, "moderator")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("missing duplicate aborts without touching the target", func() {
		before, err := s.svc.Get(s.ctx, target.ID, nil)
		s.Require().NoError(err)

		_, err = s.svc.Merge(s.ctx, target.ID, []uuid.UUID{uuid.New()}, "moderator")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		after, err := s.svc.Get(s.ctx, target.ID, nil)
		s.Require().NoError(err)
		s.Equal(before.CommunityVotes, after.CommunityVotes)
		s.ElementsMatch(before.MergedFrom, after.MergedFrom)
	})
}

func (s *ServiceSuite) TestTrustPacket() {
	sig := s.mustCreate("Pothole on Main Street")

	packet, err := s.svc.TrustPacket(s.ctx, sig.ID)
	s.Require().NoError(err)

	s.Equal(sig.ID, packet.SignalID)
	s.InDelta(sig.PriorityScore, packet.FinalScore, 1e-9)
	s.Equal(trust.Hash(sig.ID, sig.CreatedAt, packet.FinalScore), packet.VerificationHash)

	s.Run("hash tracks the live score", func() {
		_, err := s.svc.CastVote(s.ctx, sig.ID, "bob", nil)
		s.Require().NoError(err)

		updated, err := s.svc.TrustPacket(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.NotEqual(packet.VerificationHash, updated.VerificationHash)
	})

	s.Run("unknown signal", func() {
		_, err := s.svc.TrustPacket(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestStatusHistoryUnknownSignal() {
	_, err := s.svc.StatusHistory(s.ctx, uuid.New())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestCommunityScoping() {
	community := uuid.New()
	req := s.createReq("Scoped pothole report")
	req.CommunityID = &community
	scoped, err := s.svc.Create(s.ctx, req)
	s.Require().NoError(err)
	global := s.mustCreate("Global pothole report")

	s.Run("scoped get", func() {
		found, err := s.svc.Get(s.ctx, scoped.ID, &community)
		s.Require().NoError(err)
		s.Equal(scoped.ID, found.ID)

		_, err = s.svc.Get(s.ctx, global.ID, &community)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("scoped vote misses outsiders", func() {
		_, err := s.svc.CastVote(s.ctx, global.ID, "bob", &community)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unscoped listing sees everything", func() {
		page, err := s.svc.ListPrioritized(s.ctx, nil, 0, 10)
		s.Require().NoError(err)
		s.Equal(2, page.Total)
	})
}
