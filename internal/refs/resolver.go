// Package refs resolves opaque reference tokens into display names.
package refs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/starford/driftwatch/internal/models"
)

// Lookup is the platform-side collaborator that resolves one reference.
type Lookup interface {
	LookupReference(ctx context.Context, kind models.RefKind, id, token string) (string, error)
}

// Resolver caches reference lookups for the duration of one run. Create a
// fresh Resolver per scheduler pass; the cache is not meant to outlive it.
type Resolver struct {
	lookup Lookup

	group singleflight.Group
	mu    sync.Mutex
	cache map[models.Ref]string
}

// NewResolver creates a run-scoped resolver backed by lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
		cache:  make(map[models.Ref]string),
	}
}

// Resolve returns a display name for every requested ref. A lookup failure
// never propagates: failed refs map to a placeholder derived from the kind.
// Each distinct ref is looked up at most once per resolver lifetime.
func (r *Resolver) Resolve(ctx context.Context, refs models.RefSet, token string) map[models.Ref]string {
	names := make(map[models.Ref]string, len(refs))
	for ref := range refs {
		names[ref] = r.resolveOne(ctx, ref, token)
	}
	return names
}

func (r *Resolver) resolveOne(ctx context.Context, ref models.Ref, token string) string {
	r.mu.Lock()
	if name, ok := r.cache[ref]; ok {
		r.mu.Unlock()
		return name
	}
	r.mu.Unlock()

	// singleflight collapses concurrent lookups for the same ref; the cache
	// above covers sequential repeats.
	v, _, _ := r.group.Do(ref.Token(), func() (any, error) {
		name, err := r.lookup.LookupReference(ctx, ref.Kind, ref.ID, token)
		if err != nil {
			slog.Debug("reference lookup failed",
				slog.String("kind", string(ref.Kind)),
				slog.String("id", ref.ID),
				slog.String("error", err.Error()))
			name = Placeholder(ref.Kind)
		}
		r.mu.Lock()
		r.cache[ref] = name
		r.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

// Placeholder is the display name used when a reference cannot be resolved.
func Placeholder(kind models.RefKind) string {
	return fmt.Sprintf("Unknown (%s)", kind)
}

// Substitute replaces, in place, every string leaf of tree that is exactly a
// resolved token with its display name. Refs absent from names are left as
// raw tokens.
func Substitute(tree models.Tree, names map[models.Ref]string) {
	for _, c := range tree {
		switch c.Kind {
		case models.KindValue:
			c.Old = substituteValue(c.Old, names)
			c.New = substituteValue(c.New, names)
		case models.KindSet:
			for i, v := range c.Added {
				c.Added[i] = substituteValue(v, names)
			}
			for i, v := range c.Removed {
				c.Removed[i] = substituteValue(v, names)
			}
		case models.KindNested:
			Substitute(c.Nested, names)
		}
	}
}

func substituteValue(v any, names map[models.Ref]string) any {
	switch typed := v.(type) {
	case string:
		if ref, ok := models.ParseRef(typed); ok {
			if name, ok := names[ref]; ok {
				return name
			}
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = substituteValue(item, names)
		}
		return typed
	case map[string]any:
		for k, item := range typed {
			typed[k] = substituteValue(item, names)
		}
		return typed
	default:
		return v
	}
}
