package service

import (
	"context"
	"fmt"
	"log/slog"

	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// EventLog remembers processed webhook deliveries so redeliveries skip the database.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// WebhookResult acknowledges a delivery.
type WebhookResult struct {
	Received bool
	Type     string
	ID       string
}

// ProcessWebhook verifies a gateway delivery and applies it to the ledger.
// Any returned error should be answered with a non-2xx status so the gateway redelivers.
func (r *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	ev, err := r.gateway.ConstructEvent(payload, sigHeader)
	if err != nil {
		r.logger.Warn("webhook rejected", "error", err)
		return nil, gatewayError("verify webhook", err)
	}

	log := r.logger.With("event_id", ev.ID, "event_type", ev.Type)
	log.Info("webhook received")
	res := &WebhookResult{Received: true, Type: ev.Type, ID: ev.ID}

	if r.alreadyProcessed(ctx, ev.ID, log) {
		log.Info("webhook already processed")
		return res, nil
	}
	if err := r.dispatch(ctx, ev, log); err != nil {
		log.Error("webhook processing failed", "error", err)
		return nil, err
	}
	r.markProcessed(ctx, ev.ID, log)
	return res, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *pkgstripe.Event, log *slog.Logger) error {
	switch ev.Type {
	case pkgstripe.EventIntentCreated:
		if err := requireIntent(ev); err != nil {
			return err
		}
		if !pkgstripe.HasDonation(ev.Intent.Metadata) {
			log.Info("webhook ignored: not a donation", "transaction_id", ev.Intent.ID)
			return nil
		}
		return r.recordPending(ctx, ev.Intent)

	case pkgstripe.EventIntentSucceeded:
		if err := requireIntent(ev); err != nil {
			return err
		}
		if !pkgstripe.HasDonation(ev.Intent.Metadata) {
			log.Info("webhook ignored: not a donation", "transaction_id", ev.Intent.ID)
			return nil
		}
		_, err := r.completeIntent(ctx, ev.Intent, completion{source: "webhook"})
		return err

	case pkgstripe.EventIntentFailed:
		if err := requireIntent(ev); err != nil {
			return err
		}
		return r.fail(ctx, ev.Intent.ID, "webhook")

	case pkgstripe.EventSessionCompleted:
		if ev.Session == nil {
			return fmt.Errorf("%w: event %s has no checkout session", ErrValidation, ev.ID)
		}
		if ev.Session.PaymentStatus != pkgstripe.SessionPaymentPaid {
			log.Info("checkout session completed but not paid", "session_id", ev.Session.ID,
				"payment_status", ev.Session.PaymentStatus)
			return nil
		}
		// The event body does not expand the payment intent; fetch the session again.
		session, err := r.gateway.RetrieveCheckoutSession(ctx, ev.Session.ID)
		if err != nil {
			return gatewayError("retrieve checkout session", err)
		}
		if !sessionHasDonation(session) {
			log.Info("webhook ignored: not a donation", "session_id", session.ID)
			return nil
		}
		_, err = r.completeSession(ctx, session, "webhook")
		return err

	case pkgstripe.EventSessionExpired:
		if ev.Session != nil {
			log.Info("checkout session expired", "session_id", ev.Session.ID)
		}
		return nil

	default:
		log.Info("webhook ignored: unhandled event type")
		return nil
	}
}

func requireIntent(ev *pkgstripe.Event) error {
	if ev.Intent == nil || ev.Intent.ID == "" {
		return fmt.Errorf("%w: event %s has no payment intent", ErrValidation, ev.ID)
	}
	return nil
}

func sessionHasDonation(s *pkgstripe.Session) bool {
	if pkgstripe.HasDonation(s.Metadata) {
		return true
	}
	return s.Intent != nil && pkgstripe.HasDonation(s.Intent.Metadata)
}

// alreadyProcessed consults the event log. Lookup failures count as "not seen".
func (r *Reconciler) alreadyProcessed(ctx context.Context, eventID string, log *slog.Logger) bool {
	if r.events == nil || eventID == "" {
		return false
	}
	seen, err := r.events.Seen(ctx, eventID)
	if err != nil {
		log.Warn("event log lookup failed", "error", err)
		return false
	}
	return seen
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID string, log *slog.Logger) {
	if r.events == nil || eventID == "" {
		return
	}
	if err := r.events.MarkProcessed(ctx, eventID); err != nil {
		log.Warn("event log write failed", "error", err)
	}
}
