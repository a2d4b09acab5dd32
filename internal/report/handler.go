package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/transport"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExporterAPI interface {
	Export(ctx context.Context, from, to time.Time, w io.Writer) (int, error)
}

type Handler struct {
	*transport.BaseHandler
	Exporter ExporterAPI
	now      func() time.Time
}

func NewHandler(exporter ExporterAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Exporter:    exporter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExportLedger handles GET /api/v1/admin/payments/export?from=YYYY-MM-DD&to=YYYY-MM-DD.
// The window defaults to the last 30 days; to is exclusive.
func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.RequireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		h.HandleError(w, errors.NewForbiddenError("only admins can export the ledger", errors.ErrCodeForbidden))
		return
	}

	to := h.now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -30)
	var appErr *errors.AppError
	if v := r.URL.Query().Get("from"); v != "" {
		if from, appErr = parseDay("from", v); appErr != nil {
			h.HandleError(w, appErr)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, appErr = parseDay("to", v); appErr != nil {
			h.HandleError(w, appErr)
			return
		}
	}
	if !from.Before(to) {
		h.HandleError(w, errors.NewValidationFieldError("to", "to must be after from", errors.ErrCodeInvalidDate))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger_%s_%s.xlsx"`,
		from.Format("20060102"), to.Format("20060102")))

	if _, err := h.Exporter.Export(r.Context(), from, to, w); err != nil {
		w.Header().Del("Content-Disposition")
		h.HandleServiceError(w, err)
		return
	}
}

func parseDay(field, v string) (time.Time, *errors.AppError) {
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.NewValidationFieldError(field, field+" must be a date (YYYY-MM-DD)", errors.ErrCodeInvalidDate)
	}
	return t.UTC(), nil
}
