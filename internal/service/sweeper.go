package service

import (
	"context"
	"time"

	"github.com/goodeedhub/backend/internal/model"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// DefaultSweepBatch caps how many pending donations one sweep checks.
const DefaultSweepBatch = 100

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
}

// SweepStalePending asks the gateway about donations left pending for longer
// than olderThan, for payments whose success or failure signal never arrived.
// Per-donation errors are logged and counted; the sweep goes on.
func (r *Reconciler) SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) (*SweepResult, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	stale, err := r.ledger.ListStalePending(ctx, r.now().Add(-olderThan), limit)
	if err != nil {
		return nil, storeError("list stale pending", err)
	}

	res := &SweepResult{}
	for _, d := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		switch outcome, err := r.sweepOne(ctx, d.TransactionID); {
		case err != nil:
			res.Errors++
			r.logger.Warn("sweep: donation not resolved", "transaction_id", d.TransactionID, "error", err)
			r.requeue(ctx, d.TransactionID)
		case outcome == model.DonationCompleted:
			res.Completed++
		case outcome == model.DonationFailed:
			res.Failed++
		default:
			r.requeue(ctx, d.TransactionID)
		}
	}

	if res.Checked > 0 {
		r.logger.Info("pending sweep finished",
			"checked", res.Checked, "completed", res.Completed, "failed", res.Failed, "errors", res.Errors)
	}
	return res, nil
}

// sweepOne settles one pending donation from its gateway status and returns
// the status it was moved to, or pending when the gateway has no answer yet.
func (r *Reconciler) sweepOne(ctx context.Context, transactionID string) (model.DonationStatus, error) {
	intent, err := r.gateway.RetrievePaymentIntent(ctx, transactionID)
	if err != nil {
		return model.DonationPending, gatewayError("retrieve payment intent", err)
	}
	switch intent.Status {
	case pkgstripe.IntentSucceeded:
		if _, err := r.completeIntent(ctx, intent, completion{source: "sweeper"}); err != nil {
			return model.DonationPending, err
		}
		return model.DonationCompleted, nil
	case pkgstripe.IntentCanceled:
		if err := r.fail(ctx, transactionID, "sweeper"); err != nil {
			return model.DonationPending, err
		}
		return model.DonationFailed, nil
	}
	return model.DonationPending, nil
}

// requeue moves a donation the sweep left pending behind the rest of the
// stale rows, so a full batch of unresolved payments cannot hide newer ones.
func (r *Reconciler) requeue(ctx context.Context, transactionID string) {
	if err := r.ledger.TouchPending(ctx, transactionID, r.now()); err != nil {
		r.logger.Warn("sweep: requeue failed", "transaction_id", transactionID, "error", err)
	}
}

// SweepJob adapts SweepStalePending to a periodic job.
func (r *Reconciler) SweepJob(olderThan time.Duration, limit int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.SweepStalePending(ctx, olderThan, limit)
		return err
	}
}
