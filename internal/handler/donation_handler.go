package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/service"
)

// DonationHandler handles donation listing endpoints.
type DonationHandler struct {
	svc    service.DonationService
	logger *slog.Logger
}

// NewDonationHandler creates a DonationHandler.
func NewDonationHandler(svc service.DonationService, logger *slog.Logger) *DonationHandler {
	return &DonationHandler{svc: svc, logger: logging.OrDefault(logger)}
}

// page reads limit and offset from the query string. Missing values are 0 and
// get the service defaults.
func page(r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}

// ListMine handles GET /api/donations/me (auth required).
func (h *DonationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	donorID, ok := principalID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := page(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_pagination")
		return
	}
	res, err := h.svc.ListMine(r.Context(), donorID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if res.Donations == nil {
		res.Donations = []*model.Donation{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListForCause handles GET /api/causes/{id}/donations (public).
func (h *DonationHandler) ListForCause(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := page(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_pagination")
		return
	}
	list, err := h.svc.ListForCause(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*model.Donation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"donations": list})
}
