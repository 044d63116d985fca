// Package audience resolves which contacts a campaign is sent to.
package audience

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrConfiguration is returned for an audience definition that cannot be
// resolved, such as a tag filter without a tag.
var ErrConfiguration = errors.New("invalid audience configuration")

// ContactQuery narrows the directory scan. The directory may return a
// superset; the resolver re-applies the full predicate.
type ContactQuery struct {
	// Tag, when set, restricts results to contacts carrying it.
	Tag string
}

// Directory is the read side of the contact store.
type Directory interface {
	ListContacts(ctx context.Context, q ContactQuery) ([]domain.Contact, error)
}

// Resolver turns an audience filter into a materialized recipient list.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns every active, consented contact matching the filter,
// ordered by contact id so batch boundaries are stable across runs.
func (r *Resolver) Resolve(ctx context.Context, filter domain.AudienceFilter, targetTag string) ([]domain.Contact, error) {
	var q ContactQuery
	switch filter {
	case domain.AudienceAll:
	case domain.AudienceTags:
		if targetTag == "" {
			return nil, fmt.Errorf("%w: tag filter requires a target tag", ErrConfiguration)
		}
		q.Tag = targetTag
	default:
		return nil, fmt.Errorf("%w: unknown audience filter %q", ErrConfiguration, filter)
	}

	contacts, err := r.dir.ListContacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	out := make([]domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if !c.Reachable() {
			continue
		}
		if q.Tag != "" && !c.HasTag(q.Tag) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
