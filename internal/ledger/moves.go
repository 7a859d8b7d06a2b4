package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MoveKind names the terminal archive a run was moved into.
type MoveKind string

const (
	MoveCompleted MoveKind = "completed"
	MoveAborted   MoveKind = "aborted"
)

// Move is a terminal transition of a run directory.
type Move struct {
	ID      int64
	RunName string
	Kind    MoveKind
	From    string
	To      string
	MovedAt time.Time
	Detail  string
}

// RecordMove appends a terminal move.
func (s *Store) RecordMove(ctx context.Context, m Move) error {
	if m.MovedAt.IsZero() {
		m.MovedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO moves (run_name, kind, from_path, to_path, moved_at, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		m.RunName, m.Kind, m.From, m.To, formatTime(m.MovedAt), nullableString(m.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	return nil
}

// RecentMoves returns up to limit moves, newest first.
func (s *Store) RecentMoves(ctx context.Context, limit int) ([]Move, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_name, kind, from_path, to_path, moved_at, detail FROM moves ORDER BY moved_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		var (
			m       Move
			kind    string
			movedAt string
			detail  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RunName, &kind, &m.From, &m.To, &movedAt, &detail); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		m.Kind = MoveKind(kind)
		m.MovedAt = parseTime(movedAt)
		m.Detail = detail.String
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// Stats summarizes ledger activity since a point in time.
type Stats struct {
	Launched  int
	Succeeded int
	Failed    int
	Stalled   int
	Completed int
	Aborted   int
}

// StatsSince counts attempts started and moves made at or after since.
func (s *Store) StatsSince(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	cutoff := formatTime(since)

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(1) FROM attempts WHERE started_at >= ? GROUP BY outcome`, cutoff)
	if err != nil {
		return st, fmt.Errorf("count attempts: %w", err)
	}
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			rows.Close()
			return st, fmt.Errorf("scan attempt counts: %w", err)
		}
		st.Launched += count
		switch Outcome(outcome) {
		case OutcomeSucceeded:
			st.Succeeded = count
		case OutcomeFailed:
			st.Failed = count
		case OutcomeStalled:
			st.Stalled = count
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return st, err
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx,
		`SELECT
            COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0)
        FROM moves WHERE moved_at >= ?`,
		MoveCompleted, MoveAborted, cutoff,
	).Scan(&st.Completed, &st.Aborted)
	if err != nil {
		return st, fmt.Errorf("count moves: %w", err)
	}
	return st, nil
}
