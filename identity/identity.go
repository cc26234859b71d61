// Package identity maps the transient speaker labels of a transcript onto
// durable speaker identities.
//
// A Directory is shared by the whole process and holds the alias store and
// the chain of unknown-speaker handlers. Each session gets its own
// Resolver with a private label cache.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"node.town/minutes/db"
)

type Identity struct {
	ID          int64
	DisplayName string
	Email       string
}

func fromRow(row db.SpeakerIdentity) *Identity {
	return &Identity{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Email:       row.Email,
	}
}

// AliasStore is the durable (context, label) -> identity mapping.
type AliasStore interface {
	GetIdentityByAlias(ctx context.Context, arg db.GetIdentityByAliasParams) (db.SpeakerIdentity, error)
	InsertAlias(ctx context.Context, arg db.InsertAliasParams) (int64, error)
}

// Request describes a speaker no alias is bound for yet.
type Request struct {
	Context string
	Label   string
}

// UnknownSpeakerFunc tries to identify a speaker. Returning a nil identity
// and a nil error passes the request on to the next handler.
type UnknownSpeakerFunc func(ctx context.Context, req Request) (*Identity, error)

type handler struct {
	name string
	fn   UnknownSpeakerFunc
}

type Directory struct {
	store AliasStore
	log   *log.Logger

	mu       sync.RWMutex
	handlers []handler
}

func NewDirectory(store AliasStore, logger *log.Logger) *Directory {
	return &Directory{store: store, log: logger}
}

// Register appends a handler to the unknown-speaker chain.
func (d *Directory) Register(name string, fn UnknownSpeakerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler{name: name, fn: fn})
}

func (d *Directory) chain() []handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]handler(nil), d.handlers...)
}

// CreateAlias binds label to identityID within aliasContext. It
// reports whether a new binding was written; an existing binding for the
// pair is left untouched.
func (d *Directory) CreateAlias(
	ctx context.Context,
	identityID int64,
	aliasContext string,
	label string,
	source string,
) (bool, error) {
	n, err := d.store.InsertAlias(ctx, db.InsertAliasParams{
		IdentityID: identityID,
		Context:    aliasContext,
		Label:      label,
		Source:     source,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create alias: %w", err)
	}
	return n > 0, nil
}

// NewResolver returns a resolver for one session.
func (d *Directory) NewResolver(aliasContext string) *Resolver {
	return &Resolver{
		dir:     d,
		context: aliasContext,
		cache:   make(map[string]*Identity),
	}
}

// ContextFromURL derives the resolution context from a meeting URL: the
// lower-cased host, or "unknown" when there is none.
func ContextFromURL(meetingURL string) string {
	u, err := url.Parse(strings.TrimSpace(meetingURL))
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
