package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/service"
	"github.com/goodeedhub/backend/pkg/auth"
)

const testDonorID = "donor-1"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockPaymentService struct {
	createIntentFunc   func(ctx context.Context, req service.IntentRequest) (*service.IntentResult, error)
	createCheckoutFunc func(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
}

func (m *mockPaymentService) CreateIntent(ctx context.Context, req service.IntentRequest) (*service.IntentResult, error) {
	if m.createIntentFunc != nil {
		return m.createIntentFunc(ctx, req)
	}
	return &service.IntentResult{}, nil
}

func (m *mockPaymentService) CreateCheckoutSession(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	if m.createCheckoutFunc != nil {
		return m.createCheckoutFunc(ctx, req)
	}
	return &service.CheckoutResult{}, nil
}

type mockReconciliation struct {
	confirmFunc       func(ctx context.Context, req service.ConfirmRequest) (*model.Donation, error)
	verifySessionFunc func(ctx context.Context, sessionID string) (*model.Donation, error)
	verifyFunc        func(ctx context.Context, transactionID, donorID string) (*service.VerifyResult, error)
	statusFunc        func(ctx context.Context, transactionID, donorID string) (*service.StatusResult, error)
	webhookFunc       func(ctx context.Context, payload []byte, sigHeader string) (*service.WebhookResult, error)
}

func (m *mockReconciliation) ConfirmPayment(ctx context.Context, req service.ConfirmRequest) (*model.Donation, error) {
	if m.confirmFunc != nil {
		return m.confirmFunc(ctx, req)
	}
	return &model.Donation{}, nil
}

func (m *mockReconciliation) VerifySession(ctx context.Context, sessionID string) (*model.Donation, error) {
	if m.verifySessionFunc != nil {
		return m.verifySessionFunc(ctx, sessionID)
	}
	return &model.Donation{}, nil
}

func (m *mockReconciliation) VerifyPayment(ctx context.Context, transactionID, donorID string) (*service.VerifyResult, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, transactionID, donorID)
	}
	return &service.VerifyResult{}, nil
}

func (m *mockReconciliation) WebhookStatus(ctx context.Context, transactionID, donorID string) (*service.StatusResult, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, transactionID, donorID)
	}
	return &service.StatusResult{Status: service.StatusNotFound}, nil
}

func (m *mockReconciliation) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) (*service.WebhookResult, error) {
	if m.webhookFunc != nil {
		return m.webhookFunc(ctx, payload, sigHeader)
	}
	return &service.WebhookResult{Received: true}, nil
}

type mockDonationService struct {
	listMineFunc     func(ctx context.Context, donorID string, limit, offset int) (*service.DonorDonations, error)
	listForCauseFunc func(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error)
}

func (m *mockDonationService) ListMine(ctx context.Context, donorID string, limit, offset int) (*service.DonorDonations, error) {
	if m.listMineFunc != nil {
		return m.listMineFunc(ctx, donorID, limit, offset)
	}
	return &service.DonorDonations{}, nil
}

func (m *mockDonationService) ListForCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error) {
	if m.listForCauseFunc != nil {
		return m.listForCauseFunc(ctx, causeID, limit, offset)
	}
	return nil, nil
}

// newRequest builds a request carrying the test donor principal.
func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	return req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{ID: testDonorID, Role: auth.RoleDonor}))
}

// serve routes req through a mux so path values are populated.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}
