package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signalos/internal/identity/store"
	"signalos/internal/identity/token"
	dErrors "signalos/pkg/domain-errors"
	"signalos/pkg/platform/sentinel"
)

type IdentitySuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
}

func (s *IdentitySuite) SetupTest() {
	tokens := token.NewService("test-signing-key", "signalos-test", time.Hour)
	s.svc = New(store.NewMemoryUserStore(), tokens)
	s.ctx = context.Background()
}

func TestIdentitySuite(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

func (s *IdentitySuite) TestRegister() {
	s.Run("creates a user with a hashed password", func() {
		user, err := s.svc.Register(s.ctx, "alice", "correct-horse")
		s.Require().NoError(err)
		s.Equal("alice", user.Username)
		s.NotEmpty(user.PasswordHash)
		s.NotEqual("correct-horse", user.PasswordHash)
	})

	s.Run("rejects a duplicate username", func() {
		_, err := s.svc.Register(s.ctx, "bob", "correct-horse")
		s.Require().NoError(err)

		_, err = s.svc.Register(s.ctx, "bob", "another-pass")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects short passwords", func() {
		_, err := s.svc.Register(s.ctx, "carol", "short")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects short usernames", func() {
		_, err := s.svc.Register(s.ctx, "ab", "correct-horse")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *IdentitySuite) TestLogin() {
	_, err := s.svc.Register(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	s.Run("issues a token for valid credentials", func() {
		tok, err := s.svc.Login(s.ctx, "alice", "correct-horse")
		s.Require().NoError(err)
		s.NotEmpty(tok)
	})

	s.Run("rejects a wrong password", func() {
		_, err := s.svc.Login(s.ctx, "alice", "wrong-password")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown user gets the same error as a wrong password", func() {
		_, err := s.svc.Login(s.ctx, "nobody", "correct-horse")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *IdentitySuite) TestResolve() {
	user, err := s.svc.Register(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	id, err := s.svc.Resolve(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(user.ID, id)

	// Lookup is case-insensitive, matching registration uniqueness.
	id, err = s.svc.Resolve(s.ctx, "ALICE")
	s.Require().NoError(err)
	s.Equal(user.ID, id)

	_, err = s.svc.Resolve(s.ctx, "nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
