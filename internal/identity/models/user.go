// Package models holds the identity entities the core needs: a stable user
// ID per username. Authorization policy lives outside this service.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "signalos/pkg/domain-errors"
)

// User is a registered reporter or operator.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// NewUser validates the username and builds a user record. The password hash
// is produced by the service; this constructor never sees plaintext.
func NewUser(username, passwordHash string, createdAt time.Time) (*User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 64 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "username must be 3-64 characters")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "password hash is required")
	}
	return &User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
	}, nil
}
