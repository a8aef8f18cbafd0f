package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"signalos/internal/signal/models"
	"signalos/pkg/platform/sentinel"
)

// MemorySignalStore keeps signals in a map. Used by unit tests and local runs.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[uuid.UUID]*models.Signal
}

func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{signals: make(map[uuid.UUID]*models.Signal)}
}

func (s *MemorySignalStore) FindByID(_ context.Context, id uuid.UUID) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (s *MemorySignalStore) FindByIDInCommunity(_ context.Context, id, communityID uuid.UUID) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok || sig.CommunityID == nil || *sig.CommunityID != communityID {
		return nil, sentinel.ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (s *MemorySignalStore) ListByStatusNotIn(_ context.Context, excluded []models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[models.Status]bool, len(excluded))
	for _, st := range excluded {
		skip[st] = true
	}

	var matched []*models.Signal
	for _, sig := range s.signals {
		if skip[sig.Status] {
			continue
		}
		if communityID != nil && (sig.CommunityID == nil || *sig.CommunityID != *communityID) {
			continue
		}
		matched = append(matched, cloneSignal(sig))
	}
	sortByScore(matched)

	total := len(matched)
	return page(matched, offset, limit), total, nil
}

func (s *MemorySignalStore) ListByStatus(_ context.Context, status models.Status, communityID *uuid.UUID, offset, limit int) ([]*models.Signal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Signal
	for _, sig := range s.signals {
		if sig.Status != status {
			continue
		}
		if communityID != nil && (sig.CommunityID == nil || *sig.CommunityID != *communityID) {
			continue
		}
		matched = append(matched, cloneSignal(sig))
	}
	sortByScore(matched)

	total := len(matched)
	return page(matched, offset, limit), total, nil
}

func (s *MemorySignalStore) TopByStatus(ctx context.Context, status models.Status, communityID *uuid.UUID, limit int) ([]*models.Signal, error) {
	top, _, err := s.ListByStatus(ctx, status, communityID, 0, limit)
	return top, err
}

func (s *MemorySignalStore) Save(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = cloneSignal(sig)
	return nil
}

func (s *MemorySignalStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.signals, id)
	return nil
}

func cloneSignal(sig *models.Signal) *models.Signal {
	c := *sig
	c.MergedFrom = append([]uuid.UUID{}, sig.MergedFrom...)
	if sig.CommunityID != nil {
		cid := *sig.CommunityID
		c.CommunityID = &cid
	}
	return &c
}

func sortByScore(signals []*models.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].PriorityScore != signals[j].PriorityScore {
			return signals[i].PriorityScore > signals[j].PriorityScore
		}
		return signals[i].CreatedAt.After(signals[j].CreatedAt)
	})
}

func page(signals []*models.Signal, offset, limit int) []*models.Signal {
	if offset >= len(signals) {
		return nil
	}
	end := len(signals)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return signals[offset:end]
}

// MemoryVoteStore enforces the one-vote-per-(user, signal) constraint under a
// single lock, mirroring the database unique constraint.
type MemoryVoteStore struct {
	mu    sync.RWMutex
	votes map[string]*models.Vote
}

func NewMemoryVoteStore() *MemoryVoteStore {
	return &MemoryVoteStore{votes: make(map[string]*models.Vote)}
}

func voteKey(userID, signalID uuid.UUID) string {
	return userID.String() + "/" + signalID.String()
}

func (s *MemoryVoteStore) FindByUserAndSignal(_ context.Context, userID, signalID uuid.UUID) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey(userID, signalID)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (s *MemoryVoteStore) CountBySignal(_ context.Context, signalID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, v := range s.votes {
		if v.SignalID == signalID {
			count++
		}
	}
	return count, nil
}

// Save rejects a second vote for the same (user, signal) with
// sentinel.ErrConflict, even when both writers passed a prior existence check.
func (s *MemoryVoteStore) Save(_ context.Context, vote *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey(vote.UserID, vote.SignalID)
	if _, exists := s.votes[key]; exists {
		return sentinel.ErrConflict
	}
	c := *vote
	s.votes[key] = &c
	return nil
}

// MemoryStatusHistoryStore keeps per-signal history slices in append order.
type MemoryStatusHistoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]*models.StatusEntry
}

func NewMemoryStatusHistoryStore() *MemoryStatusHistoryStore {
	return &MemoryStatusHistoryStore{entries: make(map[uuid.UUID][]*models.StatusEntry)}
}

func (s *MemoryStatusHistoryStore) Append(_ context.Context, entry *models.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.entries[entry.SignalID] = append(s.entries[entry.SignalID], &c)
	return nil
}

// ListBySignal returns entries newest first.
func (s *MemoryStatusHistoryStore) ListBySignal(_ context.Context, signalID uuid.UUID) ([]*models.StatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.entries[signalID]
	out := make([]*models.StatusEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		c := *stored[i]
		out = append(out, &c)
	}
	return out, nil
}
