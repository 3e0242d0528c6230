// Package stripe adapts the Stripe API to the payment flows of the platform.
// Amounts cross this package in whole currency units; conversion to the
// gateway's minor units happens here.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrNotConfigured is returned when no API key or webhook secret was provided.
	ErrNotConfigured = errors.New("stripe: not configured")
	// ErrSignature is returned when a webhook payload fails verification.
	ErrSignature = errors.New("stripe: signature verification failed")
	// ErrNotFound is returned when the gateway has no object with the requested id.
	ErrNotFound = errors.New("stripe: no such object")
)

// Gateway-side statuses the platform reacts to.
const (
	IntentSucceeded      = "succeeded"
	IntentCanceled       = "canceled"
	SessionPaymentPaid   = "paid"
	defaultPaymentMethod = "card"
)

// Webhook event types consumed by the platform.
const (
	EventIntentCreated    = "payment_intent.created"
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentFailed     = "payment_intent.payment_failed"
	EventSessionCompleted = "checkout.session.completed"
	EventSessionExpired   = "checkout.session.expired"
)

// IntentParams describes a payment intent to open.
type IntentParams struct {
	Amount   int64 // whole units
	Currency string
	Metadata DonationMetadata
}

// CheckoutParams describes a hosted checkout session to open.
type CheckoutParams struct {
	Amount      int64 // whole units
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    DonationMetadata
}

// Intent is the part of a payment intent the platform reads.
type Intent struct {
	ID            string
	ClientSecret  string
	Status        string
	Amount        int64 // whole units
	Currency      string
	PaymentMethod string
	Metadata      map[string]string
}

// Session is the part of a checkout session the platform reads.
type Session struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	Metadata      map[string]string
	// Intent is set when the session was retrieved with its payment intent expanded.
	Intent *Intent
	// IntentID is the underlying payment intent id, expanded or not.
	IntentID string
}

// Event is a verified webhook event. Exactly one of Intent or Session is set
// for the event types the platform consumes.
type Event struct {
	ID      string
	Type    string
	Intent  *Intent
	Session *Session
}

// Client is the payment gateway used by the services.
type Client interface {
	// CreatePaymentIntent opens a payment intent and returns its client secret.
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	// RetrievePaymentIntent fetches the current state of an intent.
	RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error)
	// CreateCheckoutSession opens a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	// RetrieveCheckoutSession fetches a session with its payment intent expanded.
	RetrieveCheckoutSession(ctx context.Context, id string) (*Session, error)
	// ConstructEvent verifies the Stripe-Signature header against the raw payload.
	ConstructEvent(payload []byte, sigHeader string) (*Event, error)
}

// RealClient talks to Stripe through stripe-go.
type RealClient struct {
	api           *stripeapi.Client
	webhookSecret string
	tolerance     time.Duration
}

// NewClient returns a RealClient. An empty secretKey leaves API calls disabled.
func NewClient(secretKey, webhookSecret string) *RealClient {
	c := &RealClient{webhookSecret: webhookSecret, tolerance: webhook.DefaultTolerance}
	if secretKey != "" {
		c.api = stripeapi.NewClient(secretKey)
	}
	return c
}

// CreatePaymentIntent opens an intent for params.Amount with the donation metadata attached.
func (c *RealClient) CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	pi, err := c.api.V1PaymentIntents.Create(ctx, &stripeapi.PaymentIntentCreateParams{
		Amount:   stripeapi.Int64(ToMinorUnits(params.Amount, params.Currency)),
		Currency: stripeapi.String(strings.ToLower(params.Currency)),
		Metadata: params.Metadata.Map(),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	})
	if err != nil {
		return nil, wrapAPIError("create payment intent", err)
	}
	return intentFrom(pi), nil
}

// RetrievePaymentIntent fetches an intent by id.
func (c *RealClient) RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	pi, err := c.api.V1PaymentIntents.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, wrapAPIError("retrieve payment intent", err)
	}
	return intentFrom(pi), nil
}

// CreateCheckoutSession opens a payment-mode checkout session. The metadata goes on
// the session and on its payment intent, so either success signal can rebuild the donation.
func (c *RealClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	md := params.Metadata.Map()
	cs, err := c.api.V1CheckoutSessions.Create(ctx, &stripeapi.CheckoutSessionCreateParams{
		Mode:       stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL: stripeapi.String(params.SuccessURL),
		CancelURL:  stripeapi.String(params.CancelURL),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripeapi.String(strings.ToLower(params.Currency)),
					UnitAmount: stripeapi.Int64(ToMinorUnits(params.Amount, params.Currency)),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(params.ProductName),
					},
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: md,
		PaymentIntentData: &stripeapi.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: md,
		},
	})
	if err != nil {
		return nil, wrapAPIError("create checkout session", err)
	}
	return sessionFrom(cs), nil
}

// RetrieveCheckoutSession fetches a session with payment_intent expanded.
func (c *RealClient) RetrieveCheckoutSession(ctx context.Context, id string) (*Session, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripeapi.CheckoutSessionRetrieveParams{}
	params.AddExpand("payment_intent")
	cs, err := c.api.V1CheckoutSessions.Retrieve(ctx, id, params)
	if err != nil {
		return nil, wrapAPIError("retrieve checkout session", err)
	}
	return sessionFrom(cs), nil
}

// ConstructEvent verifies and decodes a webhook delivery.
func (c *RealClient) ConstructEvent(payload []byte, sigHeader string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.Intent = intentFrom(&pi)
	case strings.HasPrefix(out.Type, "checkout.session."):
		var cs stripeapi.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.Session = sessionFrom(&cs)
	}
	return out, nil
}

func intentFrom(pi *stripeapi.PaymentIntent) *Intent {
	method := defaultPaymentMethod
	if len(pi.PaymentMethodTypes) > 0 {
		method = pi.PaymentMethodTypes[0]
	}
	currency := string(pi.Currency)
	return &Intent{
		ID:            pi.ID,
		ClientSecret:  pi.ClientSecret,
		Status:        string(pi.Status),
		Amount:        FromMinorUnits(pi.Amount, currency),
		Currency:      currency,
		PaymentMethod: method,
		Metadata:      pi.Metadata,
	}
}

func sessionFrom(cs *stripeapi.CheckoutSession) *Session {
	s := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		s.IntentID = cs.PaymentIntent.ID
		// An unexpanded reference only carries the id.
		if cs.PaymentIntent.Status != "" {
			s.Intent = intentFrom(cs.PaymentIntent)
		}
	}
	return s
}

func wrapAPIError(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("stripe %s: %w: %w", op, ErrNotFound, err)
		}
		return fmt.Errorf("stripe %s: %s (status %d): %w", op, se.Msg, se.HTTPStatusCode, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

// zeroDecimal lists currencies Stripe charges without a minor unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ToMinorUnits converts whole units to the gateway's smallest unit.
func ToMinorUnits(amount int64, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount
	}
	return amount * 100
}

// FromMinorUnits converts a gateway amount back to whole units, truncating any remainder.
func FromMinorUnits(amount int64, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount
	}
	return amount / 100
}
