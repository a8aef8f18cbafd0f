// Package store persists user identities in memory or PostgreSQL.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"signalos/internal/identity/models"
	"signalos/pkg/platform/sentinel"
)

// MemoryUserStore keeps users in a map, keyed by lowercased username.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (s *MemoryUserStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; exists {
		return sentinel.ErrConflict
	}
	c := *user
	s.users[key] = &c
	return nil
}

func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *user
	return &c, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.ID == id {
			c := *user
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}
