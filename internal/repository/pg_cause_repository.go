package repository

import (
	"context"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgCauseRepository struct {
	pool *pgxpool.Pool
}

// NewPgCauseRepository returns a PostgreSQL-backed CauseRepository.
func NewPgCauseRepository(pool *pgxpool.Pool) CauseRepository {
	return &pgCauseRepository{pool: pool}
}

func (r *pgCauseRepository) FindByID(ctx context.Context, id string) (*model.Cause, error) {
	c := &model.Cause{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, fundraiser_id, title, status, goal_amount, current_amount, created_at, updated_at
		 FROM causes WHERE id = $1`, id,
	).Scan(&c.ID, &c.FundraiserID, &c.Title, &c.Status, &c.GoalAmount, &c.CurrentAmount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}
