// Package catalog keeps a SQLite index of build runs and the episodes each
// run wrote.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	dataset     TEXT NOT NULL,
	version     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS episodes (
	run_id TEXT NOT NULL REFERENCES runs(id),
	split  TEXT NOT NULL,
	key    TEXT NOT NULL,
	steps  INTEGER NOT NULL,
	shard  INTEGER NOT NULL,
	PRIMARY KEY (run_id, split, key)
);
`

// Catalog is an open catalog database.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path required")
	}
	// Each pragma needs the _pragma= prefix with modernc.org/sqlite.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog tables: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// RunInfo is one row of the runs table.
type RunInfo struct {
	ID         string
	Dataset    string
	Version    string
	StartedAt  time.Time
	FinishedAt time.Time // zero while unfinished
	Episodes   int
	Steps      int
}

// Episode is one row of the episodes table.
type Episode struct {
	RunID string
	Split string
	Key   string
	Steps int
	Shard int
}

// Run records the episodes of one build.
type Run struct {
	ID string

	ctx context.Context
	c   *Catalog

	mu  sync.Mutex
	err error
}

// BeginRun inserts a new unfinished run.
func (c *Catalog) BeginRun(ctx context.Context, dataset, version string) (*Run, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset, version, started_at) VALUES (?, ?, ?, ?)`,
		id, dataset, version, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, ctx: ctx, c: c}, nil
}

// Record stores one written episode. Its signature matches the dataset
// writer's episode callback; the first failure is kept and returned by Err
// and Finish.
func (r *Run) Record(split, key string, steps, shard int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	_, err := r.c.db.ExecContext(r.ctx,
		`INSERT INTO episodes (run_id, split, key, steps, shard) VALUES (?, ?, ?, ?, ?)`,
		r.ID, split, key, steps, shard)
	if err != nil {
		r.err = fmt.Errorf("insert episode %s: %w", key, err)
	}
}

// Err returns the first Record failure.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Finish marks the run as finished.
func (r *Run) Finish(ctx context.Context) error {
	if err := r.Err(); err != nil {
		return err
	}
	_, err := r.c.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Runs lists runs, newest first, with their episode and step totals.
func (c *Catalog) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, r.dataset, r.version, r.started_at, r.finished_at,
		       COUNT(e.key), COALESCE(SUM(e.steps), 0)
		FROM runs r LEFT JOIN episodes e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri       RunInfo
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&ri.ID, &ri.Dataset, &ri.Version, &started, &finished, &ri.Episodes, &ri.Steps); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ri.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			ri.FinishedAt = time.UnixMilli(finished.Int64)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Episodes lists the episodes of a run ordered by split and key.
func (c *Catalog) Episodes(ctx context.Context, runID string) ([]Episode, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, split, key, steps, shard FROM episodes
		WHERE run_id = ? ORDER BY split, key`, runID)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.RunID, &e.Split, &e.Key, &e.Steps, &e.Shard); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
