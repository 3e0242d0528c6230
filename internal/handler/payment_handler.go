package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/service"
	"github.com/goodeedhub/backend/pkg/auth"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

// Reconciliation is the part of service.Reconciler the HTTP layer drives.
type Reconciliation interface {
	ConfirmPayment(ctx context.Context, req service.ConfirmRequest) (*model.Donation, error)
	VerifySession(ctx context.Context, sessionID string) (*model.Donation, error)
	VerifyPayment(ctx context.Context, transactionID, donorID string) (*service.VerifyResult, error)
	WebhookStatus(ctx context.Context, transactionID, donorID string) (*service.StatusResult, error)
	ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) (*service.WebhookResult, error)
}

// PaymentHandler は決済関連の HTTP ハンドラ
type PaymentHandler struct {
	payments  service.PaymentService
	reconcile Reconciliation
	logger    *slog.Logger
}

// NewPaymentHandler は PaymentHandler を生成する
func NewPaymentHandler(payments service.PaymentService, reconcile Reconciliation, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, reconcile: reconcile, logger: logging.OrDefault(logger)}
}

type intentBody struct {
	Amount      int64  `json:"amount" validate:"required,min=100"`
	CauseID     string `json:"causeId" validate:"required,max=64"`
	IsAnonymous bool   `json:"isAnonymous"`
	Message     string `json:"message" validate:"max=500"`
}

func (b intentBody) toRequest(donorID string) service.IntentRequest {
	return service.IntentRequest{
		CauseID:     b.CauseID,
		DonorID:     donorID,
		Amount:      b.Amount,
		IsAnonymous: b.IsAnonymous,
		Message:     b.Message,
	}
}

type checkoutBody struct {
	intentBody
	SuccessURL string `json:"successUrl" validate:"omitempty,url,max=2048"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url,max=2048"`
}

type confirmBody struct {
	TransactionID string  `json:"transactionId" validate:"required,max=255"`
	CauseID       string  `json:"causeId" validate:"omitempty,max=64"`
	Message       *string `json:"message" validate:"omitempty,max=500"`
	IsAnonymous   *bool   `json:"isAnonymous"`
}

type intentResponse struct {
	ClientSecret  string `json:"clientSecret"`
	TransactionID string `json:"transactionId"`
	service.FeeBreakdown
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	service.FeeBreakdown
}

type paymentView struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
}

func viewPayment(in *pkgstripe.Intent) *paymentView {
	if in == nil {
		return nil
	}
	return &paymentView{
		ID:            in.ID,
		Status:        in.Status,
		Amount:        in.Amount,
		Currency:      in.Currency,
		PaymentMethod: in.PaymentMethod,
	}
}

func principalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return p.ID, true
}

// CreateIntent handles POST /api/payments/intent
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	var body intentBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.payments.CreateIntent(r.Context(), body.toRequest(donorID))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		ClientSecret:  res.ClientSecret,
		TransactionID: res.TransactionID,
		FeeBreakdown:  res.FeeBreakdown,
	})
}

// CreateCheckoutSession handles POST /api/payments/checkout-session
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	var body checkoutBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.payments.CreateCheckoutSession(r.Context(), service.CheckoutRequest{
		IntentRequest: body.toRequest(donorID),
		SuccessURL:    body.SuccessURL,
		CancelURL:     body.CancelURL,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		SessionID:    res.SessionID,
		URL:          res.URL,
		FeeBreakdown: res.FeeBreakdown,
	})
}

// Confirm handles POST /api/payments/confirm
// クライアント側で決済成功後に呼ばれる。結果は決済ゲートウェイに再確認する。
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	var body confirmBody
	if !decodeJSON(w, r, &body) {
		return
	}
	d, err := h.reconcile.ConfirmPayment(r.Context(), service.ConfirmRequest{
		TransactionID: body.TransactionID,
		CauseID:       body.CauseID,
		DonorID:       donorID,
		Message:       body.Message,
		IsAnonymous:   body.IsAnonymous,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"donation": d})
}

// VerifySession handles GET /api/payments/verify-session/{sessionId} (public)
func (h *PaymentHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id_required")
		return
	}
	d, err := h.reconcile.VerifySession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "donation": d})
}

// Verify handles GET /api/payments/verify/{transactionId}
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	res, err := h.reconcile.VerifyPayment(r.Context(), r.PathValue("transactionId"), donorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  res.Success,
		"payment":  viewPayment(res.Payment),
		"donation": res.Donation,
	})
}

// WebhookStatus handles GET /api/payments/webhook-status/{transactionId}
func (h *PaymentHandler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	res, err := h.reconcile.WebhookStatus(r.Context(), r.PathValue("transactionId"), donorID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": res.Status, "donation": res.Donation})
}

// Webhook handles POST /api/payments/webhook
// 生のリクエストボディで署名を検証する。処理に失敗した場合は 400 を返し、ゲートウェイに再送させる。
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		writeError(w, http.StatusBadRequest, "missing_signature")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_body_failed")
		return
	}

	res, err := h.reconcile.ProcessWebhook(r.Context(), payload, sigHeader)
	if err != nil {
		code := "webhook_processing_failed"
		if errors.Is(err, service.ErrSignature) {
			code = "invalid_signature"
		}
		writeErrorMessage(w, http.StatusBadRequest, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": res.Received, "type": res.Type, "id": res.ID})
}
