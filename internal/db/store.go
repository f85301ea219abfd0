package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the controller journal: one row per run, one per phase entry, one
// per sampler degradation or recovery.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertRun(ctx context.Context, run model.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, started_at, ended_at, config_json)
VALUES (?, ?, ?, ?)
`, run.RunID, ts(run.StartedAt), nullableTS(run.EndedAt), run.ConfigJSON)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) EndRun(ctx context.Context, runID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET ended_at = ? WHERE run_id = ? AND ended_at IS NULL
`, ts(at), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end run rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, started_at, ended_at, config_json FROM runs WHERE run_id = ?
`, runID)
	var run model.Run
	var started string
	var ended sql.NullString
	if err := row.Scan(&run.RunID, &started, &ended, &run.ConfigJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("get run: %w", err)
	}
	startedAt, err := parseTS(started)
	if err != nil {
		return model.Run{}, fmt.Errorf("parse run started_at: %w", err)
	}
	run.StartedAt = startedAt
	if ended.Valid {
		endedAt, err := parseTS(ended.String)
		if err != nil {
			return model.Run{}, fmt.Errorf("parse run ended_at: %w", err)
		}
		run.EndedAt = &endedAt
	}
	return run, nil
}

// RecordPhase satisfies the controller Recorder contract.
func (s *Store) RecordPhase(ctx context.Context, ev model.PhaseEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO phase_events(event_id, run_id, seq, approach_id, phase, entered_at, committed_green_ms, extensions)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, ev.EventID, ev.RunID, ev.Seq, ev.ApproachID, string(ev.Phase), ts(ev.EnteredAt), ev.CommittedGreen.Milliseconds(), ev.Extensions)
	if err != nil {
		return fmt.Errorf("insert phase event: %w", err)
	}
	return nil
}

func (s *Store) RecordSampler(ctx context.Context, ev model.SamplerEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sampler_events(event_id, run_id, approach_id, kind, observed_at)
VALUES (?, ?, ?, ?, ?)
`, ev.EventID, ev.RunID, ev.ApproachID, string(ev.Kind), ts(ev.ObservedAt))
	if err != nil {
		return fmt.Errorf("insert sampler event: %w", err)
	}
	return nil
}

// ListPhaseEvents returns the most recent phase entries, newest first.
func (s *Store) ListPhaseEvents(ctx context.Context, runID string, limit int) ([]model.PhaseEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, run_id, seq, approach_id, phase, entered_at, committed_green_ms, extensions
FROM phase_events
WHERE (? = '' OR run_id = ?)
ORDER BY entered_at DESC, seq DESC
LIMIT ?
`, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list phase events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.PhaseEvent, 0, limit)
	for rows.Next() {
		var ev model.PhaseEvent
		var entered string
		var committedMS int64
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.Seq, &ev.ApproachID, &ev.Phase, &entered, &committedMS, &ev.Extensions); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		enteredAt, err := parseTS(entered)
		if err != nil {
			return nil, fmt.Errorf("parse phase entered_at: %w", err)
		}
		ev.EnteredAt = enteredAt
		ev.CommittedGreen = time.Duration(committedMS) * time.Millisecond
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase events: %w", err)
	}
	return out, nil
}

func (s *Store) ListSamplerEvents(ctx context.Context, runID string, limit int) ([]model.SamplerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, run_id, approach_id, kind, observed_at
FROM sampler_events
WHERE (? = '' OR run_id = ?)
ORDER BY observed_at DESC
LIMIT ?
`, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sampler events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.SamplerEvent, 0, limit)
	for rows.Next() {
		var ev model.SamplerEvent
		var observed string
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.ApproachID, &ev.Kind, &observed); err != nil {
			return nil, fmt.Errorf("scan sampler event: %w", err)
		}
		observedAt, err := parseTS(observed)
		if err != nil {
			return nil, fmt.Errorf("parse sampler observed_at: %w", err)
		}
		ev.ObservedAt = observedAt
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sampler events: %w", err)
	}
	return out, nil
}

// PurgeRetention drops journal rows older than the cutoff. Runs with no
// remaining events and an end time before the cutoff go with them.
func (s *Store) PurgeRetention(ctx context.Context, cutoff time.Time) error {
	c := ts(cutoff)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM phase_events WHERE entered_at < ?`, c); err != nil {
		return fmt.Errorf("purge phase events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sampler_events WHERE observed_at < ?`, c); err != nil {
		return fmt.Errorf("purge sampler events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM runs
WHERE ended_at IS NOT NULL AND ended_at < ?
AND run_id NOT IN (SELECT DISTINCT run_id FROM phase_events)
AND run_id NOT IN (SELECT DISTINCT run_id FROM sampler_events)
`, c); err != nil {
		return fmt.Errorf("purge runs: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}
