package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is the recorded result of a transfer attempt.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeStalled marks an attempt killed for exceeding the stall threshold.
	OutcomeStalled Outcome = "stalled"
	// OutcomeOrphaned marks an attempt left running by a previous daemon.
	OutcomeOrphaned Outcome = "orphaned"
)

// Attempt is one launch of the transfer command for a run.
type Attempt struct {
	ID          string
	RunName     string
	Root        string
	Source      string
	Destination string
	PID         int
	SessionID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     Outcome
	ExitCode    *int
}

// Duration returns the attempt's elapsed time, or zero while it is running.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() || a.StartedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// RecordStart inserts a running attempt and returns its id. A missing id is
// generated.
func (s *Store) RecordStart(ctx context.Context, a Attempt) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO attempts (id, run_name, root, source, destination, pid, started_at, outcome, session_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunName, a.Root, a.Source, a.Destination, a.PID,
		formatTime(a.StartedAt), OutcomeRunning, nullableString(a.SessionID),
	)
	if err != nil {
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	return a.ID, nil
}

// RecordFinish closes a running attempt with its outcome.
func (s *Store) RecordFinish(ctx context.Context, id string, outcome Outcome, exitCode int, finishedAt time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE attempts SET outcome = ?, exit_code = ?, finished_at = ? WHERE id = ? AND outcome = ?`,
		outcome, exitCode, formatTime(finishedAt), id, OutcomeRunning,
	)
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish attempt %s: no running attempt", id)
	}
	return nil
}

// MarkOrphaned closes every attempt still running, returning how many were
// changed. Call it once at daemon startup, before any launch.
func (s *Store) MarkOrphaned(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE attempts SET outcome = ?, finished_at = ? WHERE outcome = ?`,
		OutcomeOrphaned, formatTime(now), OutcomeRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_name, root, source, destination, pid, started_at, finished_at, outcome, exit_code, session_id
        FROM attempts ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a         Attempt
			started   string
			finished  sql.NullString
			outcome   string
			exitCode  sql.NullInt64
			sessionID sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RunName, &a.Root, &a.Source, &a.Destination, &a.PID,
			&started, &finished, &outcome, &exitCode, &sessionID); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = parseTime(started)
		if finished.Valid {
			a.FinishedAt = parseTime(finished.String)
		}
		a.Outcome = Outcome(outcome)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			a.ExitCode = &code
		}
		a.SessionID = sessionID.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
