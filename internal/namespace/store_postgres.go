package namespace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store using PostgreSQL via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL-backed namespace store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, ns Namespace) (Namespace, error) {
	ns.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO namespaces (id, name, token, created_at)
		VALUES ($1, $2, $3, $4)
	`, ns.ID, ns.Name, ns.Token, ns.CreatedAt)
	if err != nil {
		return Namespace{}, err
	}
	return ns, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (Namespace, error) {
	var ns Namespace
	err := s.db.GetContext(ctx, &ns, `
		SELECT id, name, token, created_at FROM namespaces WHERE lower(name) = lower($1)
	`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return Namespace{}, fmt.Errorf("namespace %s not found", name)
		}
		return Namespace{}, err
	}
	return ns, nil
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (Namespace, error) {
	var ns Namespace
	err := s.db.GetContext(ctx, &ns, `
		SELECT id, name, token, created_at FROM namespaces WHERE token = $1
	`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return Namespace{}, fmt.Errorf("namespace not found for token")
		}
		return Namespace{}, err
	}
	return ns, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Namespace, error) {
	var out []Namespace
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, name, token, created_at FROM namespaces ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM namespaces WHERE lower(name) = lower($1)
	`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("namespace %s not found", name)
	}
	return nil
}
