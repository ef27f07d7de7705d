package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/philosquare/zju-tem/internal/internaltypes"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	trigger_at_ms INTEGER NOT NULL,
	username      TEXT NOT NULL,
	password      TEXT NOT NULL,
	reserve_date  TEXT NOT NULL,
	start_time    TEXT NOT NULL,
	end_time      TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	report        TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'pending',
	last_message  TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(state, trigger_at_ms);
`

const jobColumns = `id, owner, trigger_at_ms, username, password, reserve_date, start_time, end_time, instrument_id, report, state, last_message, created_at_ms`

// Store is the durable job store: a single sqlite file at a profile-specific
// path. Opening is idempotent, so concurrent first-time construction by
// multiple callers is safe; sqlite's locking covers overlapping readers and
// the single-connection pool keeps per-record mutation single-writer.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if j.State == "" {
		j.State = StatePending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs(`+jobColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Owner, j.TriggerAt.UnixMilli(),
		j.Credential.Username, j.Credential.Password,
		j.Request.ReserveDate, j.Request.StartTime, j.Request.EndTime,
		j.Request.InstrumentID, j.Request.Report,
		string(j.State), j.LastMessage, j.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %q: %w", id, internaltypes.ErrNotFound)
	}
	return j, err
}

// List returns every job ordered by trigger instant.
func (s *Store) List(ctx context.Context) ([]Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY trigger_at_ms, created_at_ms, id`)
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner = ? ORDER BY trigger_at_ms, created_at_ms, id`, owner)
}

// Due returns pending jobs whose trigger instant is at or before now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? AND trigger_at_ms <= ? ORDER BY trigger_at_ms, created_at_ms, id`,
		string(StatePending), now.UnixMilli())
}

// Claim moves a pending job to fired and reports whether this caller won the
// claim. A job can be claimed at most once, which keeps firing exactly-once
// even if a poll tick overlaps a slow predecessor.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE id = ? AND state = ?`,
		string(StateFired), id, string(StatePending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetOutcome records the terminal result of a fired job's retry run.
func (s *Store) SetOutcome(ctx context.Context, id string, state State, message string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ?, last_message = ? WHERE id = ?`,
		string(state), message, id)
	return err
}

// Delete removes the record and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var triggerMs, createdMs int64
	var state string
	err := row.Scan(
		&j.ID, &j.Owner, &triggerMs,
		&j.Credential.Username, &j.Credential.Password,
		&j.Request.ReserveDate, &j.Request.StartTime, &j.Request.EndTime,
		&j.Request.InstrumentID, &j.Request.Report,
		&state, &j.LastMessage, &createdMs,
	)
	if err != nil {
		return Job{}, err
	}
	j.TriggerAt = time.UnixMilli(triggerMs)
	j.CreatedAt = time.UnixMilli(createdMs)
	j.State = State(state)
	return j, nil
}
