package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const sessionColumns = `id, bot_id, meeting_url, status, created_at, last_activity_at, ended_at, outcome, summary`

func scanSession(row interface{ Scan(...interface{}) error }) (MeetingSession, error) {
	var i MeetingSession
	err := row.Scan(
		&i.ID,
		&i.BotID,
		&i.MeetingUrl,
		&i.Status,
		&i.CreatedAt,
		&i.LastActivityAt,
		&i.EndedAt,
		&i.Outcome,
		&i.Summary,
	)
	return i, err
}

const insertSession = `
INSERT INTO meeting_sessions (id, bot_id, meeting_url, status, created_at)
VALUES ($1, $2, $3, 'joining', $4)
RETURNING ` + sessionColumns

type InsertSessionParams struct {
	ID         string
	BotID      string
	MeetingUrl string
	CreatedAt  pgtype.Timestamptz
}

func (q *Queries) InsertSession(ctx context.Context, arg InsertSessionParams) (MeetingSession, error) {
	row := q.db.QueryRow(ctx, insertSession,
		arg.ID,
		arg.BotID,
		arg.MeetingUrl,
		arg.CreatedAt,
	)
	return scanSession(row)
}

const getSession = `
SELECT ` + sessionColumns + `
FROM meeting_sessions
WHERE id = $1`

func (q *Queries) GetSession(ctx context.Context, id string) (MeetingSession, error) {
	row := q.db.QueryRow(ctx, getSession, id)
	return scanSession(row)
}

const listOpenSessions = `
SELECT ` + sessionColumns + `
FROM meeting_sessions
WHERE status IN ('joining', 'active', 'leaving')
ORDER BY created_at`

func (q *Queries) ListOpenSessions(ctx context.Context) ([]MeetingSession, error) {
	rows, err := q.db.Query(ctx, listOpenSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MeetingSession
	for rows.Next() {
		i, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Sessions still joining or active that were created before the cutoff.
const listOverdueSessions = `
SELECT ` + sessionColumns + `
FROM meeting_sessions
WHERE status IN ('joining', 'active')
  AND created_at < $1
ORDER BY created_at`

func (q *Queries) ListOverdueSessions(ctx context.Context, createdBefore pgtype.Timestamptz) ([]MeetingSession, error) {
	rows, err := q.db.Query(ctx, listOverdueSessions, createdBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MeetingSession
	for rows.Next() {
		i, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listSessionsWithTurnCount = `
SELECT s.id, s.bot_id, s.meeting_url, s.status, s.created_at, s.last_activity_at,
       s.ended_at, s.outcome, COUNT(t.id) AS turn_count
FROM meeting_sessions s
LEFT JOIN turns t ON t.session_id = s.id
GROUP BY s.id
ORDER BY s.created_at DESC
LIMIT $1`

type ListSessionsWithTurnCountRow struct {
	ID             string
	BotID          string
	MeetingUrl     string
	Status         SessionStatus
	CreatedAt      pgtype.Timestamptz
	LastActivityAt pgtype.Timestamptz
	EndedAt        pgtype.Timestamptz
	Outcome        pgtype.Text
	TurnCount      int64
}

func (q *Queries) ListSessionsWithTurnCount(ctx context.Context, limit int32) ([]ListSessionsWithTurnCountRow, error) {
	rows, err := q.db.Query(ctx, listSessionsWithTurnCount, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListSessionsWithTurnCountRow
	for rows.Next() {
		var i ListSessionsWithTurnCountRow
		if err := rows.Scan(
			&i.ID,
			&i.BotID,
			&i.MeetingUrl,
			&i.Status,
			&i.CreatedAt,
			&i.LastActivityAt,
			&i.EndedAt,
			&i.Outcome,
			&i.TurnCount,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// The first activity promotes a joining session to active. Sessions that
// are leaving or terminal match no row.
const recordSessionActivity = `
UPDATE meeting_sessions
SET last_activity_at = $2,
    status = CASE WHEN status = 'joining' THEN 'active' ELSE status END
WHERE id = $1
  AND status IN ('joining', 'active')
RETURNING ` + sessionColumns

type RecordSessionActivityParams struct {
	ID             string
	LastActivityAt pgtype.Timestamptz
}

func (q *Queries) RecordSessionActivity(ctx context.Context, arg RecordSessionActivityParams) (MeetingSession, error) {
	row := q.db.QueryRow(ctx, recordSessionActivity, arg.ID, arg.LastActivityAt)
	return scanSession(row)
}

// Conditional status write. When the current status is not in
// FromStatuses no row matches and pgx.ErrNoRows is returned, which is how
// callers tell that another trigger already won.
const transitionSession = `
UPDATE meeting_sessions
SET status = $2,
    outcome = COALESCE($3, outcome),
    ended_at = COALESCE($4, ended_at)
WHERE id = $1
  AND status = ANY($5::text[])
RETURNING ` + sessionColumns

type TransitionSessionParams struct {
	ID           string
	Status       SessionStatus
	Outcome      pgtype.Text
	EndedAt      pgtype.Timestamptz
	FromStatuses []string
}

func (q *Queries) TransitionSession(ctx context.Context, arg TransitionSessionParams) (MeetingSession, error) {
	row := q.db.QueryRow(ctx, transitionSession,
		arg.ID,
		string(arg.Status),
		arg.Outcome,
		arg.EndedAt,
		arg.FromStatuses,
	)
	return scanSession(row)
}

const setSessionSummary = `
UPDATE meeting_sessions
SET summary = $2
WHERE id = $1`

type SetSessionSummaryParams struct {
	ID      string
	Summary []byte
}

func (q *Queries) SetSessionSummary(ctx context.Context, arg SetSessionSummaryParams) error {
	_, err := q.db.Exec(ctx, setSessionSummary, arg.ID, arg.Summary)
	return err
}
