// Package history keeps a ledger of runs and their matrix cells in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/simon020286/nightly/models"
)

const (
	// FileName is the database file inside the state directory
	FileName = "history.db"

	defaultDirPerms = 0o755
)

// Run is the summary row of a recorded run
type Run struct {
	ID         string
	Workflow   string
	Number     int
	Event      string
	Ref        string
	Conclusion models.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the SQLite run ledger
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the database path inside stateDir
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Open opens (and migrates) the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w %q: %w", models.ErrHistoryPragma, pragma, err)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Migrate creates or updates the schema
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			number INTEGER NOT NULL,
			event TEXT NOT NULL,
			ref TEXT NOT NULL,
			conclusion TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			result TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, number)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS cells (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			name TEXT NOT NULL,
			matrix TEXT NOT NULL,
			runs_on TEXT NOT NULL,
			conclusion TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			steps TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cells_run_id ON cells(run_id)`,

		`CREATE TABLE IF NOT EXISTS counters (
			workflow TEXT PRIMARY KEY,
			last INTEGER NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// NextRunNumber reserves the next run number of workflow, starting at 1
func (s *Store) NextRunNumber(ctx context.Context, workflow string) (int, error) {
	query := `INSERT INTO counters (workflow, last) VALUES (?, 1)
	          ON CONFLICT(workflow) DO UPDATE SET last = last + 1
	          RETURNING last`

	var n int
	if err := s.db.QueryRowContext(ctx, query, workflow).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to reserve run number: %w", err)
	}
	return n, nil
}

// Record stores a finished run and its cells, replacing a previous record with the same id
func (s *Store) Record(ctx context.Context, run *models.RunResult) error {
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, number, event, ref, conclusion, started_at, finished_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Workflow,
		run.Number,
		run.Event,
		run.Ref,
		string(run.Conclusion),
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, job := range run.Jobs {
		for _, cell := range job.Cells {
			matrixJSON, err := json.Marshal(cell.Matrix)
			if err != nil {
				return fmt.Errorf("failed to marshal matrix: %w", err)
			}
			stepsJSON, err := json.Marshal(cell.Steps)
			if err != nil {
				return fmt.Errorf("failed to marshal steps: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO cells (run_id, job, name, matrix, runs_on, conclusion, started_at, finished_at, steps)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID,
				cell.Job,
				cell.Name,
				string(matrixJSON),
				cell.RunsOn,
				string(cell.Conclusion),
				cell.StartedAt.UTC(),
				cell.FinishedAt.UTC(),
				string(stepsJSON),
			)
			if err != nil {
				return fmt.Errorf("failed to insert cell: %w", err)
			}
		}
	}

	return tx.Commit()
}

// List returns the most recently recorded runs first. An empty workflow lists every workflow.
func (s *Store) List(ctx context.Context, workflow string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, workflow, number, event, ref, conclusion, started_at, finished_at
	          FROM runs
	          WHERE ? = '' OR workflow = ?
	          ORDER BY rowid DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, workflow, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var conclusion string
		if err := rows.Scan(&r.ID, &r.Workflow, &r.Number, &r.Event, &r.Ref, &conclusion, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Conclusion = models.Outcome(conclusion)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Get returns the full result of a run
func (s *Store) Get(ctx context.Context, id string) (*models.RunResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = ?`, id).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	var run models.RunResult
	if err := json.Unmarshal([]byte(resultJSON), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// Cells returns the cells of a run in recording order
func (s *Store) Cells(ctx context.Context, runID string) ([]models.CellResult, error) {
	query := `SELECT job, name, matrix, runs_on, conclusion, started_at, finished_at, steps
	          FROM cells WHERE run_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()

	var cells []models.CellResult
	for rows.Next() {
		var c models.CellResult
		var matrixJSON, stepsJSON, conclusion string
		if err := rows.Scan(&c.Job, &c.Name, &matrixJSON, &c.RunsOn, &conclusion, &c.StartedAt, &c.FinishedAt, &stepsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		c.Conclusion = models.Outcome(conclusion)
		if err := json.Unmarshal([]byte(matrixJSON), &c.Matrix); err != nil {
			return nil, fmt.Errorf("failed to unmarshal matrix: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &c.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cells: %w", err)
	}
	return cells, nil
}
