package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore is returned by SnapshotTo when there is no database file.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the database file, or "" for an in-memory store.
func (s *Store) DBPath() string { return s.dbPath }

// SnapshotTo copies the database file to dst. The write lock is held from
// the CHECKPOINT until the copy is complete, so the snapshot contains every
// flushed batch and no partial one. dst is replaced atomically.
func (s *Store) SnapshotTo(dst string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("duckdb: snapshot dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		return fmt.Errorf("duckdb: checkpoint: %w", err)
	}
	if err := copyInto(dst, s.dbPath); err != nil {
		return fmt.Errorf("duckdb: snapshot to %s: %w", dst, err)
	}
	return nil
}

// copyInto writes src to a temp file beside dst, syncs it and renames it
// over dst.
func copyInto(dst, src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), dst)
}
