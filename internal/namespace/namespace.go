// Package namespace manages the namespace registry: named tenants with a
// bearer token, each owning an isolated slice of the event log and entity
// map.
package namespace

import (
	"context"
	"time"
)

// Namespace is a registered tenant.
type Namespace struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Token     string    `db:"token" json:"token"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Store defines the persistence interface for namespaces.
type Store interface {
	Create(ctx context.Context, ns Namespace) (Namespace, error)
	GetByName(ctx context.Context, name string) (Namespace, error)
	GetByToken(ctx context.Context, token string) (Namespace, error)
	List(ctx context.Context) ([]Namespace, error)
	Delete(ctx context.Context, name string) error
}
