package db

import (
	"context"
	"database/sql"

	_ "embed"

	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema to the database.  Every statement is
// written as IF NOT EXISTS so repeated application is harmless.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return errors.Wrap(err, "apply schema")
}
