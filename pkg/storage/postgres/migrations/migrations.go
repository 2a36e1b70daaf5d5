// Package migrations embeds the SQL schema for the core storage tables
// (outbox, event_dedupe, idempotency_records, hmac_nonces, stepup_*)
// and applies them with golang-migrate/migrate/v4, so a fresh database
// can be brought to the current schema without a separate migration
// tool or deployment step.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// Source builds the iofs source driver over the embedded migration
// files, usable on its own (e.g. to validate the migration set in a
// test) without a database connection.
func Source() (source.Driver, error) {
	return iofs.New(sqlFS, "sql")
}

// Migrator wraps a *migrate.Migrate bound to the embedded migrations
// and a live Postgres connection.
type Migrator struct {
	m *migrate.Migrate
}

// New builds a Migrator against dsn, the standard postgres:// connection
// string golang-migrate's postgres driver expects.
func New(dsn string) (*Migrator, error) {
	src, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: new migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. migrate.ErrNoChange is swallowed
// since "already at the latest schema" is not a failure.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back all applied migrations.
func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Close releases the underlying source and database handles.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
