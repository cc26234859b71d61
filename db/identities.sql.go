package db

import (
	"context"
)

const getIdentityByAlias = `
SELECT i.id, i.display_name, i.email, i.created_at
FROM speaker_aliases a
JOIN speaker_identities i ON i.id = a.identity_id
WHERE a.context = $1 AND a.label = $2`

type GetIdentityByAliasParams struct {
	Context string
	Label   string
}

func (q *Queries) GetIdentityByAlias(ctx context.Context, arg GetIdentityByAliasParams) (SpeakerIdentity, error) {
	row := q.db.QueryRow(ctx, getIdentityByAlias, arg.Context, arg.Label)
	var i SpeakerIdentity
	err := row.Scan(&i.ID, &i.DisplayName, &i.Email, &i.CreatedAt)
	return i, err
}

const findIdentityByDisplayName = `
SELECT id, display_name, email, created_at
FROM speaker_identities
WHERE lower(display_name) = lower($1)
ORDER BY id
LIMIT 1`

func (q *Queries) FindIdentityByDisplayName(ctx context.Context, displayName string) (SpeakerIdentity, error) {
	row := q.db.QueryRow(ctx, findIdentityByDisplayName, displayName)
	var i SpeakerIdentity
	err := row.Scan(&i.ID, &i.DisplayName, &i.Email, &i.CreatedAt)
	return i, err
}

const insertIdentity = `
INSERT INTO speaker_identities (display_name, email)
VALUES ($1, $2)
RETURNING id, display_name, email, created_at`

type InsertIdentityParams struct {
	DisplayName string
	Email       string
}

func (q *Queries) InsertIdentity(ctx context.Context, arg InsertIdentityParams) (SpeakerIdentity, error) {
	row := q.db.QueryRow(ctx, insertIdentity, arg.DisplayName, arg.Email)
	var i SpeakerIdentity
	err := row.Scan(&i.ID, &i.DisplayName, &i.Email, &i.CreatedAt)
	return i, err
}

// Returns 0 rows affected when the (context, label) binding already exists.
const insertAlias = `
INSERT INTO speaker_aliases (identity_id, context, label, source)
VALUES ($1, $2, $3, $4)
ON CONFLICT (context, label) DO NOTHING`

type InsertAliasParams struct {
	IdentityID int64
	Context    string
	Label      string
	Source     string
}

func (q *Queries) InsertAlias(ctx context.Context, arg InsertAliasParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertAlias,
		arg.IdentityID,
		arg.Context,
		arg.Label,
		arg.Source,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
