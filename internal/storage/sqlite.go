package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the run ledger: an append-only record of pipeline runs and the
// outcome of every record they handled. Results themselves live in CSV files.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "smartdesk.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Runs ---

// StartRun inserts run with status running and returns it with its ID and
// start time filled in.
func (s *Store) StartRun(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning
	run.FinishedAt = time.Time{}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, phase, model, status, total, resumed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Phase, run.Model, run.Status, run.Total, run.Resumed, formatTime(run.StartedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(id string, res RunResult) error {
	status := res.Status
	if status == "" {
		status = StatusCompleted
	}
	lastError := ""
	if res.Err != nil {
		lastError = res.Err.Error()
	}

	r, err := s.db.Exec(`
		UPDATE runs SET status = ?, processed = ?, failed = ?, output = ?, backup = ?, last_error = ?, finished_at = ?
		WHERE id = ?`,
		status, res.Processed, res.Failed, res.Output, res.Backup, lastError, formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, phase, model, status, total, resumed, processed, failed, output, backup, last_error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	if err := sc.Scan(&r.ID, &r.Phase, &r.Model, &r.Status, &r.Total, &r.Resumed, &r.Processed, &r.Failed,
		&r.Output, &r.Backup, &r.LastError, &startedAt, &finishedAt); err != nil {
		return Run{}, err
	}

	var err error
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
	}
	if finishedAt.Valid {
		if r.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return Run{}, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recently started runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Record events ---

func (s *Store) RecordEvent(ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO record_events (run_id, idx, record_id, outcome, attempts, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Index, ev.RecordID, ev.Outcome, ev.Attempts, ev.Duration.Milliseconds(), ev.Error, formatTime(ev.CreatedAt),
	)
	return err
}

// RunEvents returns a run's events in record order.
func (s *Store) RunEvents(runID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT run_id, idx, record_id, outcome, attempts, duration_ms, error, created_at
		FROM record_events WHERE run_id = ? ORDER BY idx ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var ev Event
		var durationMs int64
		var createdAt string
		if err := rows.Scan(&ev.RunID, &ev.Index, &ev.RecordID, &ev.Outcome, &ev.Attempts, &durationMs, &ev.Error, &createdAt); err != nil {
			return nil, err
		}
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// OutcomeCounts tallies a run's events by outcome.
func (s *Store) OutcomeCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM record_events WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		result[outcome] = n
	}
	return result, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
