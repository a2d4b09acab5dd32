package webhook

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/transport"
)

type DispatcherAPI interface {
	Handle(ctx context.Context, gatewayName string, rawBody []byte, header http.Header) (*Result, error)
}

type Handler struct {
	*transport.BaseHandler
	Dispatcher   DispatcherAPI
	maxBodyBytes int64
}

func NewHandler(dispatcher DispatcherAPI, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		BaseHandler:  transport.NewBaseHandler(logger),
		Dispatcher:   dispatcher,
		maxBodyBytes: maxBodyBytes,
	}
}

// Receive handles POST /webhooks/{gateway}. The body is read raw: the signature covers
// the exact bytes, so it must not be decoded and re-encoded first.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.HandleError(w, errors.NewValidationError("webhook payload too large", errors.ErrCodeValidationFailed))
			return
		}
		h.HandleError(w, errors.NewValidationError("unreadable webhook payload", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.Dispatcher.Handle(r.Context(), gatewayName, body, r.Header)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}
