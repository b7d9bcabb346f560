package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rolesync/rolesync/internal/domain"
)

type IdentityRepository interface {
	Upsert(ctx context.Context, email, memberID string) error
	Delete(ctx context.Context, email string) error
	FindByEmail(ctx context.Context, email string) (*domain.IdentityRecord, error)
	List(ctx context.Context) ([]domain.IdentityRecord, error)
	Ping(ctx context.Context) error
}

type identityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

const identityCols = `email, member_id, created_at, updated_at`

func (r *identityRepository) Upsert(ctx context.Context, email, memberID string) error {
	const q = `
		INSERT INTO identities (email, member_id)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			updated_at = now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, email, memberID)
	return err
}

func (r *identityRepository) Delete(ctx context.Context, email string) error {
	const q = `DELETE FROM identities WHERE email = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, email)
	return err
}

func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*domain.IdentityRecord, error) {
	const q = `SELECT ` + identityCols + ` FROM identities WHERE email = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var rec domain.IdentityRecord
	err := r.pool.QueryRow(ctx, q, email).Scan(&rec.Email, &rec.MemberID, &rec.CreatedAt, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *identityRepository) List(ctx context.Context) ([]domain.IdentityRecord, error) {
	const q = `SELECT ` + identityCols + ` FROM identities ORDER BY email`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.IdentityRecord
	for rows.Next() {
		var rec domain.IdentityRecord
		if err := rows.Scan(&rec.Email, &rec.MemberID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *identityRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}
