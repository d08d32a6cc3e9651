package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/networkbuster/compositor/internal/model"
)

// insertChunk caps the rows bound into one INSERT statement.
const insertChunk = 500

// InsertEventBatch writes events in one transaction. Known IDs are skipped,
// so a journal replay never duplicates rows. When the transaction fails
// each event is retried alone and the ones that still fail are dropped.
func (s *Store) InsertEventBatch(events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertTx(ctx, events)
	if err == nil {
		return nil
	}
	log.Printf("duckdb: batch of %d failed, retrying one by one: %v", len(events), err)

	dropped := 0
	for i := range events {
		if err := s.insertTx(ctx, events[i:i+1]); err != nil {
			dropped++
			log.Printf("duckdb: dropping event %s (%s/%s): %v", events[i].ID, events[i].Source, events[i].Kind, err)
		}
	}
	if dropped == len(events) {
		return fmt.Errorf("duckdb: insert: all %d events failed", dropped)
	}
	return nil
}

func (s *Store) insertTx(ctx context.Context, events []model.Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(events); start += insertChunk {
		chunk := events[start:min(start+insertChunk, len(events))]
		query, args := insertStatement(chunk)
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start, start+len(chunk)-1, err)
		}
	}
	return tx.Commit()
}

// insertStatement builds one multi-row INSERT for events. Repeated IDs
// within the slice keep their first occurrence.
func insertStatement(events []model.Event) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT OR IGNORE INTO events (id, source, event_type, data, timestamp) VALUES `)
	args := make([]any, 0, len(events)*5)
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		if len(args) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, ev.ID, ev.Source, ev.Kind, encodeData(ev), ev.Timestamp.UTC())
	}
	return sb.String(), args
}

func encodeData(ev model.Event) string {
	if len(ev.Data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(ev.Data)
	if err != nil {
		log.Printf("duckdb: event %s data not encodable, storing {}: %v", ev.ID, err)
		return "{}"
	}
	return string(b)
}
