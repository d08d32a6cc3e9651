// Package migrate applies the versioned SQL files that define the event
// store schema.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migration is one versioned schema step. Files are named NNN_label.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Runner records applied versions in schema_migrations and applies newer
// ones in order, one transaction each.
type Runner struct {
	db  *sql.DB
	src fs.FS
	dir string
}

// NewRunner returns a runner for the embedded event store migrations.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, src: embedded, dir: "migrations"}
}

func newRunnerFS(db *sql.DB, src fs.FS, dir string) *Runner {
	return &Runner{db: db, src: src, dir: dir}
}

// Load reads and orders the migrations in dir. Duplicate versions are an
// error; files that are not NNN_label.sql are skipped.
func Load(src fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", dir, err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migrate: bad version in %s", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrate: version %d used by %s and %s", version, prev, name)
		}
		seen[version] = name

		body, err := fs.ReadFile(src, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

func (r *Runner) ensureTable() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	return nil
}

// Version returns the highest applied version, 0 for a fresh database.
func (r *Runner) Version() (int, error) {
	if err := r.ensureTable(); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := r.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}
	return int(v.Int64), nil
}

// Pending lists migrations newer than the applied version.
func (r *Runner) Pending() ([]Migration, error) {
	current, err := r.Version()
	if err != nil {
		return nil, err
	}
	all, err := Load(r.src, r.dir)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(all, func(m Migration) bool { return m.Version > current })
	if idx < 0 {
		return nil, nil
	}
	return all[idx:], nil
}

// Run applies every pending migration and returns how many were applied.
// A failing migration is rolled back and stops the run.
func (r *Runner) Run() (int, error) {
	pending, err := r.Pending()
	if err != nil {
		return 0, err
	}
	for i, m := range pending {
		if err := r.apply(m); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (r *Runner) apply(m Migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin %s: %w", m.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migrate: apply %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("migrate: record %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", m.Name, err)
	}
	return nil
}
