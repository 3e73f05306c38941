// Package history persists build results to a local SQLite database so
// `gantry history` can show past runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// BuildRecord is one pipeline run.
type BuildRecord struct {
	ID         string
	Tag        string
	Branch     string
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       []JobRecord
}

// JobRecord is one matrix job within a build.
type JobRecord struct {
	ID           string
	BuildID      string
	Runtime      string
	Success      bool
	AllowFailure bool
	FailedStage  string
	Duration     time.Duration
}

// Store manages the build history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates or opens the history store under workspace/.gantry/.
func NewStore(workspace string) (*Store, error) {
	dbPath := filepath.Join(workspace, ".gantry", "history.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		tag TEXT,
		branch TEXT,
		success INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id),
		runtime TEXT NOT NULL,
		success INTEGER NOT NULL,
		allow_failure INTEGER NOT NULL,
		failed_stage TEXT,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_build ON jobs(build_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordBuild inserts a build and its jobs in one transaction.
func (s *Store) RecordBuild(b BuildRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO builds (id, tag, branch, success, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Tag, b.Branch, boolToInt(b.Success), b.StartedAt, b.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	for _, j := range b.Jobs {
		_, err = tx.Exec(
			`INSERT INTO jobs (id, build_id, runtime, success, allow_failure, failed_stage, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			j.ID, b.ID, j.Runtime, boolToInt(j.Success), boolToInt(j.AllowFailure),
			j.FailedStage, j.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert job %s: %w", j.ID, err)
		}
	}

	return tx.Commit()
}

// RecentBuilds returns the latest builds, newest first, without jobs.
func (s *Store) RecentBuilds(limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, tag, branch, success, started_at, finished_at
		 FROM builds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var b BuildRecord
		var success int
		if err := rows.Scan(&b.ID, &b.Tag, &b.Branch, &success, &b.StartedAt, &b.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Success = success != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBuild returns one build with its jobs.
func (s *Store) GetBuild(id string) (*BuildRecord, error) {
	var b BuildRecord
	var success int
	err := s.db.QueryRow(
		`SELECT id, tag, branch, success, started_at, finished_at
		 FROM builds WHERE id = ?`, id).
		Scan(&b.ID, &b.Tag, &b.Branch, &success, &b.StartedAt, &b.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query build: %w", err)
	}
	b.Success = success != 0

	rows, err := s.db.Query(
		`SELECT id, runtime, success, allow_failure, failed_stage, duration_ms
		 FROM jobs WHERE build_id = ? ORDER BY runtime`, id)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var j JobRecord
		var jsuccess, allow int
		var durationMs int64
		if err := rows.Scan(&j.ID, &j.Runtime, &jsuccess, &allow, &j.FailedStage, &durationMs); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.BuildID = id
		j.Success = jsuccess != 0
		j.AllowFailure = allow != 0
		j.Duration = time.Duration(durationMs) * time.Millisecond
		b.Jobs = append(b.Jobs, j)
	}
	return &b, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
