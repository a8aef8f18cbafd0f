package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signalos/internal/signal/models"
	"signalos/pkg/platform/sentinel"
)

type SignalStoreSuite struct {
	suite.Suite
	store *MemorySignalStore
	ctx   context.Context
}

func (s *SignalStoreSuite) SetupTest() {
	s.store = NewMemorySignalStore()
	s.ctx = context.Background()
}

func TestSignalStoreSuite(t *testing.T) {
	suite.Run(t, new(SignalStoreSuite))
}

func (s *SignalStoreSuite) newSignal(title string, score float64, status models.Status) *models.Signal {
	return &models.Signal{
		ID:            uuid.New(),
		Title:         title,
		Description:   "A description long enough.",
		Category:      "roads",
		Urgency:       3,
		Impact:        3,
		PriorityScore: score,
		Status:        status,
		MergedFrom:    []uuid.UUID{},
		AuthorID:      uuid.New(),
		CreatedAt:     time.Now(),
	}
}

func (s *SignalStoreSuite) TestSaveAndFind() {
	s.Run("finds a saved signal", func() {
		sig := s.newSignal("Pothole on Main", 100, models.StatusNew)
		s.Require().NoError(s.store.Save(s.ctx, sig))

		found, err := s.store.FindByID(s.ctx, sig.ID)
		s.Require().NoError(err)
		s.Equal(sig.Title, found.Title)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("reads are isolated from later mutation", func() {
		sig := s.newSignal("Pothole on Main", 100, models.StatusNew)
		s.Require().NoError(s.store.Save(s.ctx, sig))

		found, _ := s.store.FindByID(s.ctx, sig.ID)
		found.Title = "mutated"

		again, _ := s.store.FindByID(s.ctx, sig.ID)
		s.Equal("Pothole on Main", again.Title)
	})
}

func (s *SignalStoreSuite) TestCommunityScoping() {
	community := uuid.New()
	scoped := s.newSignal("Scoped signal title", 80, models.StatusNew)
	scoped.CommunityID = &community
	global := s.newSignal("Global signal title", 90, models.StatusNew)
	s.Require().NoError(s.store.Save(s.ctx, scoped))
	s.Require().NoError(s.store.Save(s.ctx, global))

	s.Run("scoped lookup finds the member", func() {
		found, err := s.store.FindByIDInCommunity(s.ctx, scoped.ID, community)
		s.Require().NoError(err)
		s.Equal(scoped.ID, found.ID)
	})

	s.Run("scoped lookup rejects an outsider", func() {
		_, err := s.store.FindByIDInCommunity(s.ctx, global.ID, community)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("scoped listing filters", func() {
		signals, total, err := s.store.ListByStatus(s.ctx, models.StatusNew, &community, 0, 10)
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Len(signals, 1)
		s.Equal(scoped.ID, signals[0].ID)
	})
}

func (s *SignalStoreSuite) TestListOrderingAndPaging() {
	for i, score := range []float64{120, 300, 55, 200} {
		sig := s.newSignal("Ordered signal title", score, models.StatusNew)
		sig.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		s.Require().NoError(s.store.Save(s.ctx, sig))
	}
	flagged := s.newSignal("Flagged signal title", 999, models.StatusFlagged)
	s.Require().NoError(s.store.Save(s.ctx, flagged))

	s.Run("orders by score descending", func() {
		signals, total, err := s.store.ListByStatusNotIn(s.ctx,
			[]models.Status{models.StatusFlagged, models.StatusRejected}, nil, 0, 10)
		s.Require().NoError(err)
		s.Equal(4, total)
		s.Require().Len(signals, 4)
		s.InDelta(300.0, signals[0].PriorityScore, 1e-9)
		s.InDelta(55.0, signals[3].PriorityScore, 1e-9)
	})

	s.Run("pages with a stable total", func() {
		signals, total, err := s.store.ListByStatusNotIn(s.ctx,
			[]models.Status{models.StatusFlagged, models.StatusRejected}, nil, 2, 2)
		s.Require().NoError(err)
		s.Equal(4, total)
		s.Require().Len(signals, 2)
		s.InDelta(120.0, signals[0].PriorityScore, 1e-9)
	})

	s.Run("offset past the end yields empty page", func() {
		signals, total, err := s.store.ListByStatusNotIn(s.ctx,
			[]models.Status{models.StatusFlagged, models.StatusRejected}, nil, 10, 2)
		s.Require().NoError(err)
		s.Equal(4, total)
		s.Empty(signals)
	})

	s.Run("top by status bounds the result", func() {
		top, err := s.store.TopByStatus(s.ctx, models.StatusNew, nil, 2)
		s.Require().NoError(err)
		s.Require().Len(top, 2)
		s.InDelta(300.0, top[0].PriorityScore, 1e-9)
	})
}

func (s *SignalStoreSuite) TestDelete() {
	sig := s.newSignal("Pothole on Main", 100, models.StatusNew)
	s.Require().NoError(s.store.Save(s.ctx, sig))

	s.Require().NoError(s.store.Delete(s.ctx, sig.ID))
	_, err := s.store.FindByID(s.ctx, sig.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().ErrorIs(s.store.Delete(s.ctx, sig.ID), sentinel.ErrNotFound)
}

type VoteStoreSuite struct {
	suite.Suite
	store *MemoryVoteStore
	ctx   context.Context
}

func (s *VoteStoreSuite) SetupTest() {
	s.store = NewMemoryVoteStore()
	s.ctx = context.Background()
}

func TestVoteStoreSuite(t *testing.T) {
	suite.Run(t, new(VoteStoreSuite))
}

func (s *VoteStoreSuite) TestUniqueness() {
	userID, signalID := uuid.New(), uuid.New()
	vote := &models.Vote{ID: uuid.New(), UserID: userID, SignalID: signalID, CreatedAt: time.Now()}

	s.Require().NoError(s.store.Save(s.ctx, vote))

	dup := &models.Vote{ID: uuid.New(), UserID: userID, SignalID: signalID, CreatedAt: time.Now()}
	s.Require().ErrorIs(s.store.Save(s.ctx, dup), sentinel.ErrConflict)

	s.Run("same user may vote on another signal", func() {
		other := &models.Vote{ID: uuid.New(), UserID: userID, SignalID: uuid.New(), CreatedAt: time.Now()}
		s.Require().NoError(s.store.Save(s.ctx, other))
	})
}

func (s *VoteStoreSuite) TestConcurrentSaves() {
	userID, signalID := uuid.New(), uuid.New()

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.store.Save(s.ctx, &models.Vote{
				ID: uuid.New(), UserID: userID, SignalID: signalID, CreatedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.Require().ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Equal(1, succeeded, "exactly one writer wins")

	count, err := s.store.CountBySignal(s.ctx, signalID)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *VoteStoreSuite) TestLookups() {
	userID, signalID := uuid.New(), uuid.New()
	_, err := s.store.FindByUserAndSignal(s.ctx, userID, signalID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Save(s.ctx, &models.Vote{
		ID: uuid.New(), UserID: userID, SignalID: signalID, CreatedAt: time.Now(),
	}))

	found, err := s.store.FindByUserAndSignal(s.ctx, userID, signalID)
	s.Require().NoError(err)
	s.Equal(signalID, found.SignalID)
}

type StatusHistoryStoreSuite struct {
	suite.Suite
	store *MemoryStatusHistoryStore
	ctx   context.Context
}

func (s *StatusHistoryStoreSuite) SetupTest() {
	s.store = NewMemoryStatusHistoryStore()
	s.ctx = context.Background()
}

func TestStatusHistoryStoreSuite(t *testing.T) {
	suite.Run(t, new(StatusHistoryStoreSuite))
}

func (s *StatusHistoryStoreSuite) TestNewestFirst() {
	signalID := uuid.New()
	base := time.Now()

	transitions := []struct {
		from, to models.Status
	}{
		{models.StatusNone, models.StatusNew},
		{models.StatusNew, models.StatusInProgress},
		{models.StatusInProgress, models.StatusResolved},
	}
	for i, tr := range transitions {
		s.Require().NoError(s.store.Append(s.ctx, &models.StatusEntry{
			ID:        uuid.New(),
			SignalID:  signalID,
			From:      tr.from,
			To:        tr.to,
			ChangedBy: "operator",
			Reason:    "Standard lifecycle transition",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := s.store.ListBySignal(s.ctx, signalID)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(models.StatusResolved, entries[0].To)
	s.Equal(models.StatusNone, entries[2].From)
}

func (s *StatusHistoryStoreSuite) TestUnknownSignalIsEmpty() {
	entries, err := s.store.ListBySignal(s.ctx, uuid.New())
	s.Require().NoError(err)
	s.Empty(entries)
}
