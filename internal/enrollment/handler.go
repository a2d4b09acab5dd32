package enrollment

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	codec   money.Codec
}

func NewHandler(service ServiceAPI, codec money.Codec, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
		codec:       codec,
	}
}

// CreateApplication handles POST /api/v1/applications
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	var dto CreateApplicationDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	app, err := h.Service.CreateApplication(r.Context(), actor, &dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, app)
}

// ReviewApplication handles POST /api/v1/admin/applications/{id}/review
func (h *Handler) ReviewApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	id, appErr := h.ParseIDParam(r, "id")
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	var dto ReviewApplicationDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	result, err := h.Service.ReviewApplication(r.Context(), actor, id, &dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// CreateInstallmentPlan handles POST /api/v1/admin/installment-plans
func (h *Handler) CreateInstallmentPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	var dto CreateInstallmentPlanDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	plan, err := h.Service.CreateInstallmentPlan(r.Context(), actor, &dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, PlanSummary(plan, h.codec))
}

// GetInstallmentPlan handles GET /api/v1/installment-plans/{id}
func (h *Handler) GetInstallmentPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	id, appErr := h.ParseIDParam(r, "id")
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	plan, err := h.Service.GetInstallmentPlan(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, PlanSummary(plan, h.codec))
}
