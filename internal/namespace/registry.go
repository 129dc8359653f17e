package namespace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxlabs/flux/infrastructure/errors"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)

// Registry is an in-memory triple index (by id, by name, by token) backed
// by a persistent Store. Every lookup hits the maps, not the store; the
// store is only touched on Register/Delete to make the change durable, and
// once at construction to load existing namespaces.
type Registry struct {
	store Store

	mu      sync.RWMutex
	byID    map[string]Namespace
	byName  map[string]Namespace
	byToken map[string]Namespace
}

// NewRegistry wraps a Store with name/token validation and loads its
// existing namespaces into the in-memory index.
func NewRegistry(store Store) *Registry {
	r := &Registry{
		store:   store,
		byID:    make(map[string]Namespace),
		byName:  make(map[string]Namespace),
		byToken: make(map[string]Namespace),
	}
	r.loadAll(context.Background())
	return r
}

func (r *Registry) loadAll(ctx context.Context) {
	all, err := r.store.List(ctx)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range all {
		r.index(ns)
	}
}

func (r *Registry) index(ns Namespace) {
	r.byID[ns.ID] = ns
	r.byName[ns.Name] = ns
	r.byToken[ns.Token] = ns
}

func (r *Registry) unindex(ns Namespace) {
	delete(r.byID, ns.ID)
	delete(r.byName, ns.Name)
	delete(r.byToken, ns.Token)
}

// Register validates name, mints an id and token, persists the namespace,
// and updates the in-memory index.
func (r *Registry) Register(ctx context.Context, name string) (Namespace, *errors.ServiceError) {
	if !namePattern.MatchString(name) {
		return Namespace{}, errors.InvalidName(name)
	}

	r.mu.RLock()
	_, exists := r.byName[name]
	r.mu.RUnlock()
	if exists {
		return Namespace{}, errors.DuplicateName(name)
	}

	ns := Namespace{
		ID:    newNamespaceID(),
		Name:  name,
		Token: uuid.NewString(),
	}
	created, err := r.store.Create(ctx, ns)
	if err != nil {
		return Namespace{}, errors.StoreFailed(err)
	}

	r.mu.Lock()
	r.index(created)
	r.mu.Unlock()
	return created, nil
}

// Lookup returns the namespace registered under name.
func (r *Registry) Lookup(ctx context.Context, name string) (Namespace, *errors.ServiceError) {
	r.mu.RLock()
	ns, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Namespace{}, errors.NamespaceNotFound(name)
	}
	return ns, nil
}

// List returns every registered namespace from the in-memory index.
func (r *Registry) List(ctx context.Context) ([]Namespace, *errors.ServiceError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Namespace, 0, len(r.byID))
	for _, ns := range r.byID {
		out = append(out, ns)
	}
	return out, nil
}

// Delete removes a namespace registration from the store and the index.
func (r *Registry) Delete(ctx context.Context, name string) *errors.ServiceError {
	r.mu.RLock()
	ns, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return errors.NamespaceNotFound(name)
	}

	if err := r.store.Delete(ctx, name); err != nil {
		return errors.NamespaceNotFound(name)
	}

	r.mu.Lock()
	r.unindex(ns)
	r.mu.Unlock()
	return nil
}

// ValidateToken checks that token exists and maps to namespace. It returns
// Unauthorized when the token is unknown and Forbidden when the token maps
// to a different namespace than the one requested. Both branches are
// satisfied from the in-memory index, so this never costs a store round
// trip even though it runs on every authenticated write.
func (r *Registry) ValidateToken(ctx context.Context, token, namespace string) *errors.ServiceError {
	r.mu.RLock()
	ns, ok := r.byToken[token]
	r.mu.RUnlock()
	if !ok {
		return errors.Unauthorized("unknown bearer token")
	}
	if ns.Name != namespace {
		return errors.Forbidden("token does not grant access to namespace " + namespace)
	}
	return nil
}

func newNamespaceID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return "ns_" + hex.EncodeToString(buf[:])
}
