// Package service resolves usernames to stable user IDs and handles the
// registration/login boundary the core depends on.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"signalos/internal/identity/models"
	"signalos/internal/identity/token"
	dErrors "signalos/pkg/domain-errors"
	"signalos/pkg/platform/sentinel"
	"signalos/pkg/requestcontext"
)

// UserStore is the persistence the identity service needs.
type UserStore interface {
	Save(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service backs registration, login, and username resolution.
type Service struct {
	users  UserStore
	tokens *token.Service
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(users UserStore, tokens *token.Service, opts ...Option) *Service {
	s := &Service{users: users, tokens: tokens}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps a username to its stable user ID. Unknown usernames surface
// sentinel.ErrNotFound so callers decide the domain error.
func (s *Service) Resolve(ctx context.Context, username string) (uuid.UUID, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
	}

	user, err := models.NewUser(username, string(hash), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "username already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save user")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	}
	return user, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Burn comparable time so lookups don't reveal which usernames exist.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval"), []byte(password))
			return "", dErrors.New(dErrors.CodeForbidden, "invalid credentials")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "find user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", dErrors.New(dErrors.CodeForbidden, "invalid credentials")
	}

	signed, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	}
	return signed, nil
}
