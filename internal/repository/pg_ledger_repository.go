package repository

import (
	"context"
	"time"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgLedgerRepository struct {
	pool *pgxpool.Pool
}

// NewPgLedgerRepository returns a PostgreSQL-backed LedgerRepository.
func NewPgLedgerRepository(pool *pgxpool.Pool) LedgerRepository {
	return &pgLedgerRepository{pool: pool}
}

const donationSelectCols = `id, transaction_id, donor_id, cause_id, amount, platform_fee,
	total_amount, status, payment_method, COALESCE(message, ''), is_anonymous,
	created_at, updated_at`

func scanDonation(scan func(...any) error) (*model.Donation, error) {
	d := &model.Donation{}
	err := scan(
		&d.ID, &d.TransactionID, &d.DonorID, &d.CauseID, &d.Amount, &d.PlatformFee,
		&d.TotalAmount, &d.Status, &d.PaymentMethod, &d.Message, &d.IsAnonymous,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func collectDonations(rows pgx.Rows, err error) ([]*model.Donation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*model.Donation{}
	for rows.Next() {
		d, err := scanDonation(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (r *pgLedgerRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgLedgerTx{tx: tx})
	})
}

func (r *pgLedgerRepository) FindByTransactionID(ctx context.Context, transactionID string) (*model.Donation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+donationSelectCols+` FROM donations WHERE transaction_id = $1`, transactionID)
	return scanDonation(row.Scan)
}

func (r *pgLedgerRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+donationSelectCols+`
		 FROM donations
		 WHERE status = 'pending' AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		cutoff, limit)
	return collectDonations(rows, err)
}

func (r *pgLedgerRepository) TouchPending(ctx context.Context, transactionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE donations SET updated_at = $2 WHERE transaction_id = $1 AND status = 'pending'`,
		transactionID, at)
	return mapError(err)
}

func (r *pgLedgerRepository) ListByDonor(ctx context.Context, donorID string, limit, offset int) ([]*model.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+donationSelectCols+`
		 FROM donations
		 WHERE donor_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		donorID, limit, offset)
	return collectDonations(rows, mapError(err))
}

func (r *pgLedgerRepository) ListCompletedByCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+donationSelectCols+`
		 FROM donations
		 WHERE cause_id = $1 AND status = 'completed'
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		causeID, limit, offset)
	return collectDonations(rows, mapError(err))
}

// ---------------------------------------------------------------------------
// Transaction-scoped writes
// ---------------------------------------------------------------------------

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) ClaimDonation(ctx context.Context, d *model.Donation) (*model.Donation, bool, error) {
	// ON CONFLICT waits for a concurrent inserter to finish, so the SELECT below
	// always sees the winning row.
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO donations
		 (transaction_id, donor_id, cause_id, amount, platform_fee, total_amount,
		  status, payment_method, message, is_anonymous)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		d.TransactionID, d.DonorID, d.CauseID, d.Amount, d.PlatformFee, d.TotalAmount,
		d.Status, d.PaymentMethod, d.Message, d.IsAnonymous,
	)
	if err != nil {
		return nil, false, mapError(err)
	}
	stored, err := t.LockByTransactionID(ctx, d.TransactionID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (t *pgLedgerTx) LockByTransactionID(ctx context.Context, transactionID string) (*model.Donation, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+donationSelectCols+` FROM donations WHERE transaction_id = $1 FOR UPDATE`,
		transactionID)
	return scanDonation(row.Scan)
}

func (t *pgLedgerTx) SaveDonation(ctx context.Context, d *model.Donation) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE donations
		 SET status = $2, payment_method = $3, message = NULLIF($4, ''), is_anonymous = $5,
		     updated_at = NOW()
		 WHERE id = $1`,
		d.ID, d.Status, d.PaymentMethod, d.Message, d.IsAnonymous)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) IncrementCauseAmount(ctx context.Context, causeID string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE causes SET current_amount = current_amount + $2, updated_at = NOW() WHERE id = $1`,
		causeID, amount)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) IncrementDonorTotal(ctx context.Context, donorID string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE donors SET total_donations = total_donations + $2, updated_at = NOW() WHERE id = $1`,
		donorID, amount)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
