package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"node.town/minutes/db"
)

// Resolver resolves labels for a single session. It is owned by that
// session's goroutine and is not safe for concurrent use.
type Resolver struct {
	dir     *Directory
	context string
	cache   map[string]*Identity

	storeLookups int
	handlerHits  int
}

func (r *Resolver) Context() string {
	return r.context
}

// Resolve returns the identity for label, or nil when nobody claims it.
// An unresolved speaker is not an error. A non-nil error reports a store
// or handler failure; when it comes with a non-nil identity the identity
// is still usable.
func (r *Resolver) Resolve(ctx context.Context, label string) (*Identity, error) {
	if id, ok := r.cache[label]; ok {
		return id, nil
	}

	r.storeLookups++
	row, err := r.dir.store.GetIdentityByAlias(ctx, db.GetIdentityByAliasParams{
		Context: r.context,
		Label:   label,
	})
	switch {
	case err == nil:
		id := fromRow(row)
		r.cache[label] = id
		return id, nil
	case !isNotFound(err):
		return nil, fmt.Errorf("failed to look up alias %q: %w", label, err)
	}

	var errs []error
	req := Request{Context: r.context, Label: label}
	for _, h := range r.dir.chain() {
		id, err := h.fn(ctx, req)
		if err != nil {
			r.dir.log.Warn("unknown speaker handler failed",
				"handler", h.name,
				"label", label,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s: %w", h.name, err))
			continue
		}
		if id == nil {
			continue
		}

		r.handlerHits++
		created, err := r.dir.CreateAlias(ctx, id.ID, r.context, label, h.name)
		if err != nil {
			return id, err
		}
		if !created {
			// Another session bound the label first; its binding wins.
			row, err := r.dir.store.GetIdentityByAlias(ctx, db.GetIdentityByAliasParams{
				Context: r.context,
				Label:   label,
			})
			if err != nil {
				return id, fmt.Errorf("failed to reload alias %q: %w", label, err)
			}
			id = fromRow(row)
		}
		r.cache[label] = id
		r.dir.log.Info("bound speaker",
			"context", r.context,
			"label", label,
			"identity", id.ID,
			"handler", h.name,
			"created", created,
		)
		return id, nil
	}

	return nil, errors.Join(errs...)
}

type Stats struct {
	Context        string
	CachedLabels   []string
	StoreLookups   int
	HandlerMatches int
}

func (r *Resolver) Stats() Stats {
	labels := make([]string, 0, len(r.cache))
	for label := range r.cache {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return Stats{
		Context:        r.context,
		CachedLabels:   labels,
		StoreLookups:   r.storeLookups,
		HandlerMatches: r.handlerHits,
	}
}
