package history

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/renderbox/internal/report"
)

// ErrRunNotFound is returned when a run id has no recorded history
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore is the SQLite-backed run history
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) the history database.
// WAL plus a single writer keeps concurrent dispatcher invocations from
// tripping over SQLITE_BUSY.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image TEXT NOT NULL,
		gpu_selector TEXT,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		scratch_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON runs(start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists one finished invocation
func (s *SQLiteStore) RecordRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, name, image, gpu_selector, status, exit_code, scratch_dir, output_dir, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Name, run.Image, run.GPUSelector, string(run.Status), run.ExitCode,
		run.ScratchDir, run.OutputDir, run.StartTime, run.EndTime)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// GetRun retrieves one run by id
func (s *SQLiteStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, name, image, gpu_selector, status, exit_code, scratch_dir, output_dir, start_time, end_time
		FROM runs WHERE run_id = ?
	`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first
func (s *SQLiteStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, name, image, gpu_selector, status, exit_code, scratch_dir, output_dir, start_time, end_time
		FROM runs ORDER BY start_time DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scannable) (*Run, error) {
	var run Run
	var status string
	err := row.Scan(&run.RunID, &run.Name, &run.Image, &run.GPUSelector, &status,
		&run.ExitCode, &run.ScratchDir, &run.OutputDir, &run.StartTime, &run.EndTime)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = report.Status(status)
	return &run, nil
}
