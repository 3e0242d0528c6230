package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/repository"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// Reconciler drives ledger entries to their terminal status from any success or
// failure signal: client confirmation, session polling, webhooks or the sweeper.
// Every path funnels into complete or fail, which run in one ledger transaction
// so a donation and its balance credits always change together.
type Reconciler struct {
	ledger    repository.LedgerRepository
	gateway   pkgstripe.Client
	projector BalanceProjector
	events    EventLog // optional, nil = no delivery de-duplication
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(ledger repository.LedgerRepository, gateway pkgstripe.Client, events EventLog, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		gateway: gateway,
		events:  events,
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
}

// ConfirmRequest is the frontend's callback after the gateway reported success client-side.
type ConfirmRequest struct {
	TransactionID string
	CauseID       string
	DonorID       string
	Message       *string
	IsAnonymous   *bool
}

// VerifyResult is the outcome of checking a payment with the gateway.
type VerifyResult struct {
	Success  bool
	Payment  *pkgstripe.Intent
	Donation *model.Donation
}

// StatusResult is the locally recorded state of a transaction.
type StatusResult struct {
	Status   string
	Donation *model.Donation
}

// StatusNotFound is reported when no ledger entry exists for a transaction yet.
const StatusNotFound = "not_found"

// completion is one success signal for a gateway transaction.
type completion struct {
	transactionID string
	meta          pkgstripe.DonationMetadata
	paymentMethod string
	message       *string
	isAnonymous   *bool
	source        string
}

func (c completion) candidate(now time.Time) *model.Donation {
	d := &model.Donation{
		TransactionID: c.transactionID,
		DonorID:       c.meta.DonorID,
		CauseID:       c.meta.CauseID,
		Amount:        c.meta.NetAmount,
		PlatformFee:   c.meta.PlatformFee,
		TotalAmount:   c.meta.NetAmount + c.meta.PlatformFee,
		Status:        model.DonationPending,
		PaymentMethod: c.paymentMethod,
		Message:       c.meta.Message,
		IsAnonymous:   c.meta.IsAnonymous,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.applyOverrides(d)
	return d
}

func (c completion) applyOverrides(d *model.Donation) {
	if c.message != nil {
		d.Message = *c.message
	}
	if c.isAnonymous != nil {
		d.IsAnonymous = *c.isAnonymous
	}
}

// complete finds or creates the donation for c and marks it completed,
// crediting the balances only on the call that performs the transition.
func (r *Reconciler) complete(ctx context.Context, c completion) (*model.Donation, error) {
	var (
		result  *model.Donation
		applied bool
		created bool
	)
	err := r.ledger.WithinTx(ctx, func(tx repository.LedgerTx) error {
		applied = false
		now := r.now()
		d, inserted, err := tx.ClaimDonation(ctx, c.candidate(now))
		if err != nil {
			return storeError("claim donation "+c.transactionID, err)
		}
		created = inserted
		result = d

		switch err := d.TryComplete(now); {
		case errors.Is(err, model.ErrAlreadyCompleted):
			return nil
		case errors.Is(err, model.ErrTerminalStatus):
			// The gateway may report success after an earlier declined attempt;
			// the payment was taken but the ledger will not credit it.
			r.logger.Error("success signal for failed donation ignored; needs manual reconciliation",
				"transaction_id", c.transactionID, "cause_id", d.CauseID, "donor_id", d.DonorID,
				"amount", d.Amount, "source", c.source)
			return nil
		case err != nil:
			return err
		}
		c.applyOverrides(d)
		if d.PaymentMethod == "" {
			d.PaymentMethod = c.paymentMethod
		}

		if err := tx.SaveDonation(ctx, d); err != nil {
			return storeError("save donation "+c.transactionID, err)
		}
		if err := r.projector.ApplyCompletion(ctx, tx, d); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		r.logger.Info("donation completed",
			"transaction_id", c.transactionID, "cause_id", result.CauseID, "donor_id", result.DonorID,
			"amount", result.Amount, "created", created, "source", c.source)
	} else {
		r.logger.Info("donation already terminal",
			"transaction_id", c.transactionID, "status", result.Status, "source", c.source)
	}
	return result, nil
}

// fail marks a pending donation failed. A missing donation is not an error.
func (r *Reconciler) fail(ctx context.Context, transactionID, source string) error {
	var (
		changed bool
		missing bool
	)
	err := r.ledger.WithinTx(ctx, func(tx repository.LedgerTx) error {
		changed, missing = false, false
		d, err := tx.LockByTransactionID(ctx, transactionID)
		if errors.Is(err, repository.ErrNotFound) {
			missing = true
			return nil
		}
		if err != nil {
			return storeError("lock donation "+transactionID, err)
		}
		if err := d.TryFail(r.now()); err != nil {
			return nil
		}
		if err := tx.SaveDonation(ctx, d); err != nil {
			return storeError("save donation "+transactionID, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case missing:
		r.logger.Info("payment failure for unknown donation ignored", "transaction_id", transactionID, "source", source)
	case changed:
		r.logger.Info("donation failed", "transaction_id", transactionID, "source", source)
	}
	return nil
}

// recordPending creates a pending entry for a freshly created intent. Existing
// entries are left alone and balances are never touched.
func (r *Reconciler) recordPending(ctx context.Context, intent *pkgstripe.Intent) error {
	meta, err := pkgstripe.ParseDonationMetadata(intent.Metadata)
	if err != nil {
		return fmt.Errorf("%w: intent %s: %w", ErrValidation, intent.ID, err)
	}
	c := completion{transactionID: intent.ID, meta: meta, paymentMethod: intent.PaymentMethod}
	var created bool
	err = r.ledger.WithinTx(ctx, func(tx repository.LedgerTx) error {
		_, inserted, err := tx.ClaimDonation(ctx, c.candidate(r.now()))
		if err != nil {
			return storeError("claim donation "+intent.ID, err)
		}
		created = inserted
		return nil
	})
	if err != nil {
		return err
	}
	if created {
		r.logger.Info("pending donation recorded", "transaction_id", intent.ID, "cause_id", meta.CauseID)
	}
	return nil
}

// completeIntent completes the donation for a succeeded intent using its metadata.
func (r *Reconciler) completeIntent(ctx context.Context, intent *pkgstripe.Intent, overrides completion) (*model.Donation, error) {
	meta, err := pkgstripe.ParseDonationMetadata(intent.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: intent %s: %w", ErrValidation, intent.ID, err)
	}
	r.checkAmount(intent, meta)
	overrides.transactionID = intent.ID
	overrides.meta = meta
	overrides.paymentMethod = intent.PaymentMethod
	return r.complete(ctx, overrides)
}

// checkAmount logs when the charged amount disagrees with the metadata split.
// The metadata still wins; it is what the donor agreed to.
func (r *Reconciler) checkAmount(intent *pkgstripe.Intent, meta pkgstripe.DonationMetadata) {
	if intent.Amount != 0 && intent.Amount != meta.NetAmount+meta.PlatformFee {
		r.logger.Warn("intent amount differs from metadata",
			"transaction_id", intent.ID, "intent_amount", intent.Amount,
			"metadata_total", meta.NetAmount+meta.PlatformFee)
	}
}

// ---------------------------------------------------------------------------
// Client-facing entry points
// ---------------------------------------------------------------------------

// ConfirmPayment records a donation after the donor's browser reports success.
// The gateway is asked again; its answer, not the caller's, decides the outcome.
func (r *Reconciler) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*model.Donation, error) {
	if req.TransactionID == "" {
		return nil, validationError("transactionId is required")
	}
	if req.Message != nil && utf8.RuneCountInString(*req.Message) > model.MaxMessageLength {
		return nil, validationError("message must be at most %d characters", model.MaxMessageLength)
	}

	intent, err := r.gateway.RetrievePaymentIntent(ctx, req.TransactionID)
	if err != nil {
		return nil, gatewayError("retrieve payment intent", err)
	}
	meta, err := pkgstripe.ParseDonationMetadata(intent.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: intent %s: %w", ErrValidation, intent.ID, err)
	}
	if meta.DonorID != req.DonorID {
		return nil, fmt.Errorf("%w: payment belongs to another donor", ErrForbidden)
	}
	if req.CauseID != "" && req.CauseID != meta.CauseID {
		return nil, validationError("causeId does not match payment")
	}
	if intent.Status != pkgstripe.IntentSucceeded {
		return nil, fmt.Errorf("%w: intent status %s", ErrPaymentNotCompleted, intent.Status)
	}

	return r.completeIntent(ctx, intent, completion{
		message:     req.Message,
		isAnonymous: req.IsAnonymous,
		source:      "confirm",
	})
}

// VerifySession completes the donation behind a paid checkout session. It is
// public and may race with the webhook for the same payment.
func (r *Reconciler) VerifySession(ctx context.Context, sessionID string) (*model.Donation, error) {
	if sessionID == "" {
		return nil, validationError("sessionId is required")
	}
	session, err := r.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, gatewayError("retrieve checkout session", err)
	}
	if session.PaymentStatus != pkgstripe.SessionPaymentPaid {
		return nil, fmt.Errorf("%w: session payment status %s", ErrPaymentNotCompleted, session.PaymentStatus)
	}
	return r.completeSession(ctx, session, "verify_session")
}

func (r *Reconciler) completeSession(ctx context.Context, session *pkgstripe.Session, source string) (*model.Donation, error) {
	var intent pkgstripe.Intent
	switch {
	case session.Intent != nil:
		intent = *session.Intent
	case session.IntentID != "":
		intent = pkgstripe.Intent{ID: session.IntentID}
	default:
		return nil, fmt.Errorf("%w: session %s has no payment intent", ErrInvalidState, session.ID)
	}
	if !pkgstripe.HasDonation(intent.Metadata) {
		// Sessions created before metadata reached the intent still carry it on the session.
		intent.Metadata = session.Metadata
	}
	return r.completeIntent(ctx, &intent, completion{source: source})
}

// VerifyPayment reports the gateway status of a donor's payment and, when it
// succeeded, makes sure the ledger reflects it.
func (r *Reconciler) VerifyPayment(ctx context.Context, transactionID, donorID string) (*VerifyResult, error) {
	if transactionID == "" {
		return nil, validationError("transactionId is required")
	}
	intent, err := r.gateway.RetrievePaymentIntent(ctx, transactionID)
	if err != nil {
		return nil, gatewayError("retrieve payment intent", err)
	}
	meta, err := pkgstripe.ParseDonationMetadata(intent.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: intent %s: %w", ErrValidation, intent.ID, err)
	}
	if meta.DonorID != donorID {
		return nil, fmt.Errorf("%w: payment belongs to another donor", ErrForbidden)
	}

	res := &VerifyResult{Success: intent.Status == pkgstripe.IntentSucceeded, Payment: intent}
	if res.Success {
		res.Donation, err = r.completeIntent(ctx, intent, completion{source: "verify"})
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	d, err := r.ledger.FindByTransactionID(ctx, transactionID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, storeError("find donation "+transactionID, err)
	default:
		res.Donation = d
	}
	return res, nil
}

// WebhookStatus reports what the ledger currently holds for a transaction.
func (r *Reconciler) WebhookStatus(ctx context.Context, transactionID, donorID string) (*StatusResult, error) {
	if transactionID == "" {
		return nil, validationError("transactionId is required")
	}
	d, err := r.ledger.FindByTransactionID(ctx, transactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, storeError("find donation "+transactionID, err)
	}
	if d.DonorID != donorID {
		return nil, fmt.Errorf("%w: donation belongs to another donor", ErrForbidden)
	}
	return &StatusResult{Status: string(d.Status), Donation: d}, nil
}
