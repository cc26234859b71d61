package identity

import (
	"context"
	"fmt"
	"strings"

	"node.town/minutes/db"
)

type DisplayNameLookup interface {
	FindIdentityByDisplayName(ctx context.Context, displayName string) (db.SpeakerIdentity, error)
}

// MatchDisplayName claims labels that equal an existing identity's
// display name, ignoring case.
func MatchDisplayName(lookup DisplayNameLookup) UnknownSpeakerFunc {
	return func(ctx context.Context, req Request) (*Identity, error) {
		name := strings.TrimSpace(req.Label)
		if name == "" {
			return nil, nil
		}
		row, err := lookup.FindIdentityByDisplayName(ctx, name)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to find identity by name: %w", err)
		}
		return fromRow(row), nil
	}
}

type IdentityCreator interface {
	InsertIdentity(ctx context.Context, arg db.InsertIdentityParams) (db.SpeakerIdentity, error)
}

// Enroll creates a fresh identity named after the label. Registered last,
// it guarantees every non-empty label ends up bound.
func Enroll(creator IdentityCreator) UnknownSpeakerFunc {
	return func(ctx context.Context, req Request) (*Identity, error) {
		name := strings.TrimSpace(req.Label)
		if name == "" {
			return nil, nil
		}
		row, err := creator.InsertIdentity(ctx, db.InsertIdentityParams{
			DisplayName: name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
		return fromRow(row), nil
	}
}
