package logsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gradloop/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics(
	run_id TEXT NOT NULL,
	split TEXT NOT NULL,
	step INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS metrics_series ON metrics(run_id, split, name, step);
`

// Store is a SQLite database of metric series. Each Store belongs to one run.
type Store struct {
	db    *sql.DB
	runID string
}

// OpenStore opens (or creates) the database at path and registers a new run.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics db pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics db schema: %w", err)
	}
	s := &Store{db: db, runID: uuid.NewString()}
	if _, err := db.ExecContext(ctx, "INSERT INTO runs(id, started_at) VALUES(?, ?)",
		s.runID, time.Now().Unix()); err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	return s, nil
}

// RunID identifies this run's rows.
func (s *Store) RunID() string { return s.runID }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Sink returns a Sink writing under split (e.g. "train" or "test").
func (s *Store) Sink(split string) Sink {
	return &sqliteSink{store: s, split: split}
}

type sqliteSink struct {
	store *Store
	split string
}

// Report writes one row per metric in a single transaction.
func (k *sqliteSink) Report(ctx context.Context, stats metrics.Stats, index int) error {
	tx, err := k.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("report %s step %d: %w", k.split, index, err)
	}
	now := time.Now().UnixNano()
	for _, name := range stats.Keys() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO metrics(run_id, split, step, name, value, ts) VALUES(?, ?, ?, ?, ?, ?)",
			k.store.runID, k.split, index, name, stats[name], now); err != nil {
			tx.Rollback()
			return fmt.Errorf("report %s step %d %s: %w", k.split, index, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("report %s step %d: %w", k.split, index, err)
	}
	return nil
}

// Point is one value of a metric series.
type Point struct {
	Step  int
	Value float64
}

// Series returns this run's values of name under split, ordered by step.
func (s *Store) Series(ctx context.Context, split, name string) ([]Point, error) {
	return s.RunSeries(ctx, s.runID, split, name)
}

// RunSeries returns the values of name under split recorded by runID.
func (s *Store) RunSeries(ctx context.Context, runID, split, name string) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step, value FROM metrics WHERE run_id = ? AND split = ? AND name = ? ORDER BY step",
		runID, split, name)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Runs lists every run in the database, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY started_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
