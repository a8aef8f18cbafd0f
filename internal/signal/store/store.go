// Package store provides persistence for signals, votes, and status history.
// In-memory and PostgreSQL implementations share the same behavior contract:
// missing records surface sentinel.ErrNotFound and uniqueness violations
// surface sentinel.ErrConflict, so services translate storage facts into
// domain errors in one place.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Migrate applies the schema. Idempotent; integration tests and dev
// bootstrap call it against a fresh database.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
