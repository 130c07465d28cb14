// Package journal persists an audit trail of workload runs.
//
// Every run of a workload through an event set can be journaled: one
// row per run, one row per observed operation lifecycle event. The
// trail outlives the process, so a failed overnight run can be read
// back the next morning with the evset trace command.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on op_events(run_id, seq)
const currentSchemaVersion = 1

// Op lifecycle events recorded in op_events.event.
const (
	EventInserted  = "inserted"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventDrained   = "drained"
)

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID         string
	Workload   string
	StartedAt  time.Time
	FinishedAt time.Time // zero until the run finished
	Inserted   int
	Failed     int
}

// Finished reports whether the run recorded a finish.
func (r RunSummary) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// OpEvent is one observed operation lifecycle event.
type OpEvent struct {
	RunID string
	Seq   uint64
	Label string
	Op    string
	Event string
	At    time.Time
	Error string
}

// Journal provides durable storage for run audit trails. Uses SQLite
// with WAL mode for concurrent read access.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at the given path. Pragmas
// and schema migrations are applied automatically; the call is
// idempotent.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent recording.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on
// user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the (run_id, seq) index for databases created before
// it appeared in schema.sql. CREATE INDEX IF NOT EXISTS is a no-op when
// the index already exists.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_op_events_run_seq
		ON op_events(run_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// BeginRun opens a new run row and returns its id.
func (j *Journal) BeginRun(ctx context.Context, workload string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, workload, started_at)
		VALUES (?, ?, ?)
	`, id, workload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// Record appends one op lifecycle event to a run.
func (j *Journal) Record(ctx context.Context, ev OpEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO op_events (run_id, seq, label, op, event, at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.Seq, ev.Label, ev.Op, ev.Event, at.UTC().Format(time.RFC3339Nano), ev.Error)
	if err != nil {
		return fmt.Errorf("record op event: %w", err)
	}
	return nil
}

// FinishRun stamps a run finished and stores its totals.
func (j *Journal) FinishRun(ctx context.Context, runID string, inserted, failed int) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, inserted = ?, failed = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), inserted, failed, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %q not found", runID)
	}
	return nil
}

// Runs returns every run, oldest first. Ordering is deterministic:
// started_at, then id.
func (j *Journal) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, workload, started_at, finished_at, inserted, failed
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Run returns the run with the given id, or sql.ErrNoRows.
func (j *Journal) Run(ctx context.Context, runID string) (RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, workload, started_at, finished_at, inserted, failed
		FROM runs
		WHERE id = ?
	`, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return RunSummary{}, fmt.Errorf("iterate run: %w", err)
		}
		return RunSummary{}, sql.ErrNoRows
	}
	return scanRun(rows)
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, workload, started_at, finished_at, inserted, failed
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	if err != nil {
		return RunSummary{}, fmt.Errorf("query latest run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return RunSummary{}, fmt.Errorf("iterate latest run: %w", err)
		}
		return RunSummary{}, sql.ErrNoRows
	}
	return scanRun(rows)
}

// Events returns a run's op events in seq order, then insertion order
// for events sharing a seq.
func (j *Journal) Events(ctx context.Context, runID string) ([]OpEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, label, op, event, at, error
		FROM op_events
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query op events: %w", err)
	}
	defer rows.Close()

	events := []OpEvent{}
	for rows.Next() {
		var (
			ev OpEvent
			at string
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Label, &ev.Op, &ev.Event, &at, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan op event: %w", err)
		}
		ev.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse op event time: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate op events: %w", err)
	}
	return events, nil
}

func scanRun(rows *sql.Rows) (RunSummary, error) {
	var (
		run        RunSummary
		startedAt  string
		finishedAt sql.NullString
	)
	if err := rows.Scan(&run.ID, &run.Workload, &startedAt, &finishedAt, &run.Inserted, &run.Failed); err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parse run start time: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return RunSummary{}, fmt.Errorf("parse run finish time: %w", err)
		}
	}
	return run, nil
}
