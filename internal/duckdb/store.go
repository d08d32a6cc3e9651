// Package duckdb persists compositor events so history outlives the bounded
// in-memory buffer.
package duckdb

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/networkbuster/compositor/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every store query.
const DefaultQueryTimeout = 30 * time.Second

// Store is the event history database. Writes take mu exclusively so a
// snapshot never observes a half-written batch.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens dbPath, creating it and its directory when missing, and
// brings the schema up to date. An empty dbPath keeps the database in
// memory. queryTimeout defaults to DefaultQueryTimeout.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: create data dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %q: %w", dbPath, err)
	}

	applied, err := migrate.NewRunner(db).Run()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if applied > 0 {
		log.Printf("duckdb: applied %d schema migrations", applied)
	}

	timeout := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		timeout = queryTimeout[0]
	}
	return &Store{db: db, dbPath: dbPath, QueryTimeout: timeout}, nil
}

// Close releases the database. Pending InsertBuffer batches must be flushed
// first.
func (s *Store) Close() error {
	return s.db.Close()
}
