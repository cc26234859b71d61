package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

const insertTurn = `
INSERT INTO turns (
    id,
    session_id,
    seq,
    speaker_label,
    identity_id,
    content,
    embedding,
    spoken_at,
    embedding_error,
    embedding_failed_at,
    metadata
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`

type InsertTurnParams struct {
	ID                string
	SessionID         string
	Seq               int64
	SpeakerLabel      string
	IdentityID        pgtype.Int8
	Content           string
	Embedding         *pgvector.Vector
	SpokenAt          pgtype.Timestamptz
	EmbeddingError    pgtype.Text
	EmbeddingFailedAt pgtype.Timestamptz
	Metadata          []byte
}

type InsertTurnRow struct {
	ID        string
	CreatedAt pgtype.Timestamptz
}

func (q *Queries) InsertTurn(ctx context.Context, arg InsertTurnParams) (InsertTurnRow, error) {
	row := q.db.QueryRow(ctx, insertTurn,
		arg.ID,
		arg.SessionID,
		arg.Seq,
		arg.SpeakerLabel,
		arg.IdentityID,
		arg.Content,
		arg.Embedding,
		arg.SpokenAt,
		arg.EmbeddingError,
		arg.EmbeddingFailedAt,
		arg.Metadata,
	)
	var i InsertTurnRow
	err := row.Scan(&i.ID, &i.CreatedAt)
	return i, err
}

const getTurnStats = `
SELECT
    COUNT(*) AS total_turns,
    COUNT(embedding) AS turns_with_embeddings,
    COUNT(*) - COUNT(embedding) AS turns_without_embeddings,
    COALESCE(AVG(LENGTH(content)), 0)::float8 AS avg_content_length,
    COALESCE(MIN(seq), 0)::bigint AS first_seq,
    COALESCE(MAX(seq), 0)::bigint AS last_seq
FROM turns
WHERE session_id = $1`

type GetTurnStatsRow struct {
	TotalTurns             int64
	TurnsWithEmbeddings    int64
	TurnsWithoutEmbeddings int64
	AvgContentLength       float64
	FirstSeq               int64
	LastSeq                int64
}

func (q *Queries) GetTurnStats(ctx context.Context, sessionID string) (GetTurnStatsRow, error) {
	row := q.db.QueryRow(ctx, getTurnStats, sessionID)
	var i GetTurnStatsRow
	err := row.Scan(
		&i.TotalTurns,
		&i.TurnsWithEmbeddings,
		&i.TurnsWithoutEmbeddings,
		&i.AvgContentLength,
		&i.FirstSeq,
		&i.LastSeq,
	)
	return i, err
}

const listTurnsForSession = `
SELECT id, seq, speaker_label, identity_id, content, spoken_at,
       embedding IS NOT NULL AS has_embedding, embedding_error
FROM turns
WHERE session_id = $1
ORDER BY seq`

type ListTurnsForSessionRow struct {
	ID             string
	Seq            int64
	SpeakerLabel   string
	IdentityID     pgtype.Int8
	Content        string
	SpokenAt       pgtype.Timestamptz
	HasEmbedding   bool
	EmbeddingError pgtype.Text
}

func (q *Queries) ListTurnsForSession(ctx context.Context, sessionID string) ([]ListTurnsForSessionRow, error) {
	rows, err := q.db.Query(ctx, listTurnsForSession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListTurnsForSessionRow
	for rows.Next() {
		var i ListTurnsForSessionRow
		if err := rows.Scan(
			&i.ID,
			&i.Seq,
			&i.SpeakerLabel,
			&i.IdentityID,
			&i.Content,
			&i.SpokenAt,
			&i.HasEmbedding,
			&i.EmbeddingError,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
