package db

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

type SessionStatus string

const (
	SessionStatusJoining   SessionStatus = "joining"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusLeaving   SessionStatus = "leaving"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

func (e *SessionStatus) Scan(src interface{}) error {
	switch s := src.(type) {
	case []byte:
		*e = SessionStatus(s)
	case string:
		*e = SessionStatus(s)
	default:
		return fmt.Errorf("unsupported scan type for SessionStatus: %T", src)
	}
	return nil
}

// Terminal reports whether no further transition is allowed.
func (e SessionStatus) Terminal() bool {
	return e == SessionStatusCompleted || e == SessionStatusFailed
}

type Config struct {
	Key   string
	Value string
}

type MeetingSession struct {
	ID             string
	BotID          string
	MeetingUrl     string
	Status         SessionStatus
	CreatedAt      pgtype.Timestamptz
	LastActivityAt pgtype.Timestamptz
	EndedAt        pgtype.Timestamptz
	Outcome        pgtype.Text
	Summary        []byte
}

type SpeakerAlias struct {
	ID         int64
	IdentityID int64
	Context    string
	Label      string
	Source     string
	CreatedAt  pgtype.Timestamptz
}

type SpeakerIdentity struct {
	ID          int64
	DisplayName string
	Email       string
	CreatedAt   pgtype.Timestamptz
}

type Turn struct {
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
	CreatedAt         pgtype.Timestamptz
}
