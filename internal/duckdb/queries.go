package duckdb

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// eventFilter builds a WHERE clause for optional source and type filters.
func eventFilter(source, kind string) (clause string, args []any) {
	var conditions []string
	if source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, source)
	}
	if kind != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, kind)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// TotalEventCount returns the number of stored events.
func (s *Store) TotalEventCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// CountsBySource returns stored event counts per source, largest first.
func (s *Store) CountsBySource() ([]model.KeyCount, error) {
	return s.groupCounts("source")
}

// CountsByType returns stored event counts per event type, largest first.
func (s *Store) CountsByType() ([]model.KeyCount, error) {
	return s.groupCounts("event_type")
}

// groupCounts only accepts the fixed column names used above.
func (s *Store) groupCounts(column string) ([]model.KeyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `SELECT ` + column + `, COUNT(*) AS cnt FROM events GROUP BY ` + column + ` ORDER BY cnt DESC, ` + column + ` ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.KeyCount
	for rows.Next() {
		var kc model.KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			log.Printf("duckdb: scan error (%s counts): %v", column, err)
			continue
		}
		results = append(results, kc)
	}
	return results, rows.Err()
}

// RecentStoredEvents returns up to limit most recent stored events in
// chronological order, optionally filtered by source and type.
func (s *Store) RecentStoredEvents(limit int, source, kind string) ([]model.Event, error) {
	if limit <= 0 {
		return []model.Event{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := eventFilter(source, kind)
	inner := `SELECT id, source, event_type, data, timestamp FROM events` + where + ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)
	// Wrap so final results come back in chronological (ASC) order.
	query := `SELECT * FROM (` + inner + `) ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var data string
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Kind, &data, &ev.Timestamp); err != nil {
			log.Printf("duckdb: scan error (RecentStoredEvents): %v", err)
			continue
		}
		ev.Data = map[string]any{}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				log.Printf("duckdb: bad data for event %s: %v", ev.ID, err)
			}
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// DeleteBefore removes events older than cutoff and returns how many were removed.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
