// Package results persists sweep run outcomes for later analysis.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/refinelab/refinery/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	task_id     TEXT NOT NULL,
	budget      INTEGER NOT NULL,
	ratio       REAL NOT NULL,
	seed        INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	final       TEXT NOT NULL DEFAULT '',
	iterations  INTEGER NOT NULL,
	tokens_in   INTEGER NOT NULL DEFAULT 0,
	tokens_out  INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	err         TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (task_id, budget, ratio, seed)
);

CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
`

// Store is a SQLite-backed archive of run results. Re-inserting a result for
// the same run key replaces the previous row, so re-running a sweep cell
// overwrites its earlier outcome.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the results database at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent readers during a running sweep
	db, err := sql.Open("sqlite3", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertResult writes one run result, replacing any earlier row for the same
// run key.
func (s *Store) InsertResult(ctx context.Context, r types.RunResult) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid result: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(task_id, budget, ratio, seed, kind, outcome, final, iterations,
		 tokens_in, tokens_out, cost_usd, elapsed_ms, err, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Key.TaskID, r.Key.Budget, r.Key.Ratio, r.Key.Seed,
		string(r.Kind), string(r.Outcome), r.Final.Content, r.Iterations,
		r.TokensIn, r.TokensOut, r.CostUSD, r.Elapsed.Milliseconds(),
		r.Err, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for %s: %w", r.Key, err)
	}
	return nil
}

// List returns all stored results ordered by task, budget, ratio, seed.
func (s *Store) List(ctx context.Context) ([]types.RunResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, budget, ratio, seed, kind, outcome, final, iterations,
		       tokens_in, tokens_out, cost_usd, elapsed_ms, err, started_at
		FROM runs
		ORDER BY task_id, budget, ratio, seed`)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []types.RunResult
	for rows.Next() {
		var r types.RunResult
		var kind, outcome string
		var elapsedMS int64
		if err := rows.Scan(
			&r.Key.TaskID, &r.Key.Budget, &r.Key.Ratio, &r.Key.Seed,
			&kind, &outcome, &r.Final.Content, &r.Iterations,
			&r.TokensIn, &r.TokensOut, &r.CostUSD, &elapsedMS,
			&r.Err, &r.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Kind = types.TaskKind(kind)
		r.Outcome = types.Outcome(outcome)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

// Summary aggregates stored results per outcome.
type Summary struct {
	TotalRuns      int
	ByOutcome      map[types.Outcome]int
	MeanIterations float64
	TotalCostUSD   float64
}

// Summarize rolls up every stored run.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*), AVG(iterations), SUM(cost_usd)
		FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize results: %w", err)
	}
	defer rows.Close()

	summary := &Summary{ByOutcome: make(map[types.Outcome]int)}
	var weightedIterations float64
	for rows.Next() {
		var outcome string
		var count int
		var meanIter, cost sql.NullFloat64
		if err := rows.Scan(&outcome, &count, &meanIter, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.ByOutcome[types.Outcome(outcome)] = count
		summary.TotalRuns += count
		weightedIterations += meanIter.Float64 * float64(count)
		summary.TotalCostUSD += cost.Float64
	}
	if summary.TotalRuns > 0 {
		summary.MeanIterations = weightedIterations / float64(summary.TotalRuns)
	}
	return summary, rows.Err()
}
