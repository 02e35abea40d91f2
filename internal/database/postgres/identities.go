package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// IdentityRepository stores the identity set in PostgreSQL. It implements
// database.IdentityStore: every Save replaces the whole set.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Save replaces all stored identities in one transaction.
func (r *IdentityRepository) Save(ctx context.Context, identities []database.Identity) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM identities"); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO identities (position, label, name, embedding, dim, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, id := range identities {
		vec := pgvector.NewVector(id.Embedding)
		if _, err := stmt.ExecContext(ctx, i, id.Label, id.Name, vec, len(id.Embedding)); err != nil {
			return fmt.Errorf("insert identity %q: %w", id.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load returns all stored identities in their saved order, with the labels
// recorded at save time.
func (r *IdentityRepository) Load(ctx context.Context) ([]database.Identity, []database.Diagnostic, error) {
	rows, err := r.pool.Query(ctx, "SELECT label, name, embedding FROM identities ORDER BY position")
	if err != nil {
		return nil, nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.Identity
	for rows.Next() {
		var (
			id  database.Identity
			vec pgvector.Vector
		)
		if err := rows.Scan(&id.Label, &id.Name, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan identity: %w", err)
		}
		id.Embedding = vec.Slice()
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil, nil
}

// Count returns the number of stored identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}
