// Package journal records mosaic runs and per-frame outcomes in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Journal wraps the SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and ensures the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            source TEXT NOT NULL,
            backend TEXT NOT NULL,
            detector TEXT NOT NULL,
            config_json TEXT,
            status TEXT NOT NULL,
            started_at TEXT NOT NULL,
            finished_at TEXT,
            frames INTEGER DEFAULT 0,
            applied INTEGER DEFAULT 0,
            skipped INTEGER DEFAULT 0,
            output_path TEXT,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS frame_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL REFERENCES runs(id),
            frame_index INTEGER NOT NULL,
            kind TEXT NOT NULL,
            reason TEXT,
            motion TEXT,
            keypoints INTEGER,
            matches INTEGER,
            dx REAL,
            dy REAL,
            pose_json TEXT,
            merged INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_frame_events_run ON frame_events(run_id, frame_index);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Run is one recorded mosaic run.
type Run struct {
	ID         string
	Source     string
	Backend    string
	Detector   string
	ConfigJSON string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Frames     int
	Applied    int
	Skipped    int
	OutputPath string
	Error      string
}

// FrameEvent is one frame's outcome.
type FrameEvent struct {
	Index     int
	Kind      string
	Reason    string
	Motion    string
	Keypoints int
	Matches   int
	DX, DY    float64
	PoseJSON  string
	Merged    int
}

// BeginRun inserts a running run and returns its generated id.
func (j *Journal) BeginRun(ctx context.Context, r Run) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, backend, detector, config_json, status, started_at, output_path) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		id, r.Source, r.Backend, r.Detector, r.ConfigJSON, StatusRunning, formatTime(time.Now()), r.OutputPath)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// RecordFrame appends a frame event to the run.
func (j *Journal) RecordFrame(ctx context.Context, runID string, e FrameEvent) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO frame_events (run_id, frame_index, kind, reason, motion, keypoints, matches, dx, dy, pose_json, merged) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		runID, e.Index, e.Kind, e.Reason, e.Motion, e.Keypoints, e.Matches, e.DX, e.DY, e.PoseJSON, e.Merged)
	if err != nil {
		return fmt.Errorf("record frame %d: %w", e.Index, err)
	}
	return nil
}

// FinishRun stores the final counters and status. runErr, if set, is
// stored as the error message.
func (j *Journal) FinishRun(ctx context.Context, runID, status string, frames, applied, skipped int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status=?, finished_at=?, frames=?, applied=?, skipped=?, error_message=? WHERE id=?;`,
		status, formatTime(time.Now()), frames, applied, skipped, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, backend, detector, config_json, status, started_at, finished_at, frames, applied, skipped, output_path, error_message`

// GetRun returns a single run.
func (j *Journal) GetRun(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?;`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

// RecentRuns returns the latest runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFrames returns a run's frame events in frame order.
func (j *Journal) ListFrames(ctx context.Context, runID string) ([]FrameEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT frame_index, kind, reason, motion, keypoints, matches, dx, dy, pose_json, merged FROM frame_events WHERE run_id=? ORDER BY frame_index, id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []FrameEvent
	for rows.Next() {
		var e FrameEvent
		var reason, motion, pose sql.NullString
		if err := rows.Scan(&e.Index, &e.Kind, &reason, &motion, &e.Keypoints, &e.Matches, &e.DX, &e.DY, &pose, &e.Merged); err != nil {
			return nil, err
		}
		e.Reason, e.Motion, e.PoseJSON = reason.String, motion.String, pose.String
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var cfg, output, errMsg, finished sql.NullString
	var started string
	if err := s.Scan(&r.ID, &r.Source, &r.Backend, &r.Detector, &cfg, &r.Status, &started, &finished,
		&r.Frames, &r.Applied, &r.Skipped, &output, &errMsg); err != nil {
		return Run{}, err
	}
	r.ConfigJSON, r.OutputPath, r.Error = cfg.String, output.String, errMsg.String

	t, err := parseTime(started)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = t
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}
		r.FinishedAt = &t
	}
	return r, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
