package payment

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	codec          money.Codec
}

func NewHandler(paymentService ServiceAPI, codec money.Codec, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.NewBaseHandler(logger),
		PaymentService: paymentService,
		codec:          codec,
	}
}

type reconcileResponse struct {
	Payment       View   `json:"payment"`
	GatewayStatus string `json:"gateway_status,omitempty"`
	Changed       bool   `json:"changed"`
}

func (h *Handler) reconciled(w http.ResponseWriter, result *ReconcileResult) {
	h.WriteJSON(w, http.StatusOK, reconcileResponse{
		Payment:       ToView(result.Payment, h.codec),
		GatewayStatus: string(result.GatewayStatus),
		Changed:       result.Changed,
	})
}

// Initialize handles POST /api/v1/payments/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	var dto InitializePaymentDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	resp, err := h.PaymentService.Initialize(r.Context(), actor, &dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// Verify handles GET /api/v1/payments/verify/{reference}
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	ref := chi.URLParam(r, "reference")
	if ref == "" {
		h.HandleError(w, errors.NewValidationFieldError("reference", "reference is required", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.PaymentService.Verify(r.Context(), actor, ref)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.reconciled(w, result)
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	id, appErr := h.ParseIDParam(r, "id")
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	p, err := h.PaymentService.Get(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToView(p, h.codec))
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.PaymentService.ListByUser(r.Context(), actor, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToViews(payments, h.codec))
}

// ConfirmPayment handles POST /api/v1/admin/payments/{id}/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	id, appErr := h.ParseIDParam(r, "id")
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	result, err := h.PaymentService.Confirm(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.reconciled(w, result)
}

// RefundPayment handles POST /api/v1/admin/payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}

	id, appErr := h.ParseIDParam(r, "id")
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	var dto RefundDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	result, err := h.PaymentService.Refund(r.Context(), actor, id, &dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, RefundResponse{
		Original: ToView(result.Original, h.codec),
		Refund:   ToView(result.Refund, h.codec),
	})
}
