package repository

import (
	"context"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgDonorRepository struct {
	pool *pgxpool.Pool
}

// NewPgDonorRepository returns a PostgreSQL-backed DonorRepository.
func NewPgDonorRepository(pool *pgxpool.Pool) DonorRepository {
	return &pgDonorRepository{pool: pool}
}

func (r *pgDonorRepository) FindByID(ctx context.Context, id string) (*model.Donor, error) {
	d := &model.Donor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, total_donations, created_at, updated_at FROM donors WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.TotalDonations, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}
