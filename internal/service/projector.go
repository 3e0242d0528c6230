package service

import (
	"context"
	"fmt"

	"github.com/goodeedhub/backend/internal/model"
)

// BalanceWriter is the transactional write surface the projector needs.
type BalanceWriter interface {
	IncrementCauseAmount(ctx context.Context, causeID string, amount int64) error
	IncrementDonorTotal(ctx context.Context, donorID string, amount int64) error
}

// BalanceProjector credits a completed donation to its cause and donor.
// It must run in the same transaction as the status change it follows.
type BalanceProjector struct{}

// ApplyCompletion adds d.Amount to the cause total and the donor's lifetime total.
// A missing cause or donor is ErrNotFound and must abort the transaction.
func (BalanceProjector) ApplyCompletion(ctx context.Context, w BalanceWriter, d *model.Donation) error {
	if d.Status != model.DonationCompleted {
		return fmt.Errorf("%w: donation %s is %s, not completed", ErrInvalidState, d.TransactionID, d.Status)
	}
	if err := w.IncrementCauseAmount(ctx, d.CauseID, d.Amount); err != nil {
		return storeError("cause "+d.CauseID, err)
	}
	if err := w.IncrementDonorTotal(ctx, d.DonorID, d.Amount); err != nil {
		return storeError("donor "+d.DonorID, err)
	}
	return nil
}
