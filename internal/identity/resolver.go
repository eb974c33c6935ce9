package identity

import (
	"context"
	"errors"
	"log"

	"mailsmith/internal/util"
)

// Prefix for generated document identities.
const Prefix = "email"

// Resolver picks the document identity for a mount. The remote service has
// no existence check for these identities; if a reused one is gone remotely
// the editor creates it transparently, so resolution is purely local.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the identity for this mount.
//
// explicit wins and overwrites the stored slot so later mounts reuse it.
// Otherwise the stored value is reused as-is. Otherwise shouldCreate decides
// between a persisted fresh identity and an ephemeral one (pure new-document
// flows that must not leave a slot behind).
func (r *Resolver) Resolve(ctx context.Context, explicit string, shouldCreate bool) (string, error) {
	if explicit != "" {
		if err := r.store.Put(ctx, explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	stored, err := r.store.Get(ctx)
	if err == nil {
		log.Printf("identity: reusing stored id %s (may not exist remotely - best-effort reuse)", stored)
		return stored, nil
	}
	if !errors.Is(err, ErrEmpty) {
		return "", err
	}

	id := util.NewDocumentID(Prefix)
	if !shouldCreate {
		return id, nil
	}
	if err := r.store.Put(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Clear drops the stored identity so the next mount starts fresh. Used by
// the storage-clear flow and by identity-limit self-healing.
func (r *Resolver) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}
