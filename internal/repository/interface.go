package repository

import (
	"context"
	"time"

	"github.com/goodeedhub/backend/internal/model"
)

// DB は DB 接続の生存確認を行うインターフェース
type DB interface {
	Ping(ctx context.Context) error
}

// LedgerRepository persists donations. Every write that changes a donation's
// status goes through WithinTx so the aggregates move with it.
type LedgerRepository interface {
	// WithinTx runs fn in one database transaction.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// FindByTransactionID returns the donation for a gateway transaction id.
	FindByTransactionID(ctx context.Context, transactionID string) (*model.Donation, error)
	// ListStalePending returns pending donations last touched before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Donation, error)
	// TouchPending sets updated_at of a still-pending donation to at, moving it
	// behind the other stale rows. Non-pending rows are left alone.
	TouchPending(ctx context.Context, transactionID string, at time.Time) error
	// ListByDonor returns a donor's donations, newest first.
	ListByDonor(ctx context.Context, donorID string, limit, offset int) ([]*model.Donation, error)
	// ListCompletedByCause returns completed donations to a cause, newest first.
	ListCompletedByCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error)
}

// LedgerTx is the set of writes available inside WithinTx.
type LedgerTx interface {
	// ClaimDonation inserts d unless a donation with d.TransactionID exists, then
	// returns the stored row locked until the transaction ends. created reports
	// whether d was the row inserted.
	ClaimDonation(ctx context.Context, d *model.Donation) (stored *model.Donation, created bool, err error)
	// LockByTransactionID returns the donation locked for update, or ErrNotFound.
	LockByTransactionID(ctx context.Context, transactionID string) (*model.Donation, error)
	// SaveDonation writes the mutable fields of d (status, payment method, message, anonymity).
	SaveDonation(ctx context.Context, d *model.Donation) error
	// IncrementCauseAmount adds amount to the cause's running total.
	IncrementCauseAmount(ctx context.Context, causeID string, amount int64) error
	// IncrementDonorTotal adds amount to the donor's lifetime total.
	IncrementDonorTotal(ctx context.Context, donorID string, amount int64) error
}

// CauseRepository reads causes.
type CauseRepository interface {
	FindByID(ctx context.Context, id string) (*model.Cause, error)
}

// DonorRepository reads donor profiles.
type DonorRepository interface {
	FindByID(ctx context.Context, id string) (*model.Donor, error)
}
