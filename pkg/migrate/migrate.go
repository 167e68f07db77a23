// Package migrate applies the payflow postgres schema with goose. The SQL
// files are embedded so every binary carries the schema it was built with.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// SourceDir is where new migrations are written, relative to the repo root.
const SourceDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Schema returns the embedded migration files.
func Schema() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator moves a postgres database between schema versions.
type Migrator struct {
	p *goose.Provider
}

// New builds a Migrator over fsys, or over the embedded schema when fsys is nil.
func New(db *sql.DB, fsys fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("migrate: nil database")
	}
	if fsys == nil {
		fsys = Schema()
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Migrator{p: p}, nil
}

// Up applies every pending migration and returns the versions it ran.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	res, err := m.p.Up(ctx)
	return applied(res), err
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) (int64, error) {
	res, err := m.p.Down(ctx)
	if err != nil {
		return 0, err
	}
	return res.Source.Version, nil
}

// To moves the schema up or down until version is the newest applied one.
func (m *Migrator) To(ctx context.Context, version int64) ([]int64, error) {
	current, err := m.p.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}
	var res []*goose.MigrationResult
	switch {
	case version > current:
		res, err = m.p.UpTo(ctx, version)
	case version < current:
		res, err = m.p.DownTo(ctx, version)
	}
	return applied(res), err
}

func (m *Migrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return m.p.Status(ctx)
}

func applied(res []*goose.MigrationResult) []int64 {
	out := make([]int64, 0, len(res))
	for _, r := range res {
		if r != nil && r.Source != nil {
			out = append(out, r.Source.Version)
		}
	}
	return out
}
