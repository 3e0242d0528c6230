package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/internal/model"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// IntentRequest is a donor's request to start paying for a donation.
type IntentRequest struct {
	CauseID     string
	DonorID     string
	Amount      int64 // gross, whole units
	IsAnonymous bool
	Message     string
}

// IntentResult is returned to the frontend to finish the payment client-side.
type IntentResult struct {
	ClientSecret  string
	TransactionID string
	FeeBreakdown
}

// CheckoutRequest asks for a hosted checkout page. Empty URLs fall back to frontend pages.
type CheckoutRequest struct {
	IntentRequest
	SuccessURL string
	CancelURL  string
}

// CheckoutResult carries the hosted checkout redirect.
type CheckoutResult struct {
	SessionID string
	URL       string
	FeeBreakdown
}

// PaymentService opens payments with the gateway. It never writes to the ledger;
// everything needed to record the donation later travels in the gateway metadata.
type PaymentService interface {
	// CreateIntent opens a payment intent and returns its client secret.
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	// CreateCheckoutSession opens a hosted checkout session and returns its URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

// PaymentCauseRepo is the cause lookup PaymentService needs.
type PaymentCauseRepo interface {
	FindByID(ctx context.Context, id string) (*model.Cause, error)
}

type paymentService struct {
	client      pkgstripe.Client
	causes      PaymentCauseRepo
	currency    string
	frontendURL string
	logger      *slog.Logger
}

// NewPaymentService creates a PaymentService charging in currency.
func NewPaymentService(client pkgstripe.Client, causes PaymentCauseRepo, currency, frontendURL string, logger *slog.Logger) PaymentService {
	return &paymentService{
		client:      client,
		causes:      causes,
		currency:    currency,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logging.OrDefault(logger),
	}
}

// prepare validates the request and loads the cause. Nothing here calls the gateway.
func (s *paymentService) prepare(ctx context.Context, req IntentRequest) (FeeBreakdown, *model.Cause, error) {
	if req.CauseID == "" {
		return FeeBreakdown{}, nil, validationError("causeId is required")
	}
	if req.DonorID == "" {
		return FeeBreakdown{}, nil, validationError("donor is required")
	}
	if utf8.RuneCountInString(req.Message) > model.MaxMessageLength {
		return FeeBreakdown{}, nil, validationError("message must be at most %d characters", model.MaxMessageLength)
	}
	fees, err := ComputeFee(req.Amount)
	if err != nil {
		return FeeBreakdown{}, nil, err
	}
	cause, err := s.causes.FindByID(ctx, req.CauseID)
	if err != nil {
		return FeeBreakdown{}, nil, storeError("cause "+req.CauseID, err)
	}
	if !cause.Approved() {
		return FeeBreakdown{}, nil, ErrCauseNotApproved
	}
	return fees, cause, nil
}

func metadataFor(req IntentRequest, fees FeeBreakdown) pkgstripe.DonationMetadata {
	return pkgstripe.DonationMetadata{
		CauseID:     req.CauseID,
		DonorID:     req.DonorID,
		NetAmount:   fees.NetAmount,
		PlatformFee: fees.PlatformFee,
		IsAnonymous: req.IsAnonymous,
		Message:     req.Message,
	}
}

func (s *paymentService) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	fees, _, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	intent, err := s.client.CreatePaymentIntent(ctx, pkgstripe.IntentParams{
		Amount:   fees.GrossAmount,
		Currency: s.currency,
		Metadata: metadataFor(req, fees),
	})
	if err != nil {
		return nil, gatewayError("create payment intent", err)
	}

	s.logger.Info("payment intent created",
		"transaction_id", intent.ID, "cause_id", req.CauseID, "donor_id", req.DonorID,
		"amount", fees.GrossAmount)
	return &IntentResult{ClientSecret: intent.ClientSecret, TransactionID: intent.ID, FeeBreakdown: fees}, nil
}

func (s *paymentService) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	successURL, cancelURL, err := s.redirectURLs(req)
	if err != nil {
		return nil, err
	}
	fees, cause, err := s.prepare(ctx, req.IntentRequest)
	if err != nil {
		return nil, err
	}

	session, err := s.client.CreateCheckoutSession(ctx, pkgstripe.CheckoutParams{
		Amount:      fees.GrossAmount,
		Currency:    s.currency,
		ProductName: "Donation to " + cause.Title,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		Metadata:    metadataFor(req.IntentRequest, fees),
	})
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}

	s.logger.Info("checkout session created",
		"session_id", session.ID, "cause_id", req.CauseID, "donor_id", req.DonorID,
		"amount", fees.GrossAmount)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL, FeeBreakdown: fees}, nil
}

// redirectURLs applies defaults and keeps redirects on the frontend origin.
func (s *paymentService) redirectURLs(req CheckoutRequest) (string, string, error) {
	success := req.SuccessURL
	if success == "" {
		success = s.frontendURL + "/donation/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancel := req.CancelURL
	if cancel == "" {
		cancel = s.frontendURL + "/causes/" + url.PathEscape(req.CauseID)
	}
	for _, u := range []string{success, cancel} {
		if !s.sameOrigin(u) {
			return "", "", validationError("redirect URL must be on %s", s.frontendURL)
		}
	}
	return success, cancel, nil
}

func (s *paymentService) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	front, err := url.Parse(s.frontendURL)
	if err != nil {
		return false
	}
	return u.Scheme == front.Scheme && u.Host == front.Host
}
