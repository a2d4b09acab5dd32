// Package report renders the payments ledger as a spreadsheet for finance.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
)

const sheetName = "Ledger"

var header = []interface{}{
	"ID", "Reference", "User", "Email", "Type", "Status", "Amount", "Currency",
	"Gateway", "Method", "Refund Of", "Paid At", "Created At",
}

type RowSource interface {
	Payments(ctx context.Context, from, to time.Time) ([]LedgerRow, error)
}

type Exporter struct {
	source RowSource
	codec  money.Codec
	logger *slog.Logger
}

func NewExporter(source RowSource, codec money.Codec, logger *slog.Logger) *Exporter {
	return &Exporter{source: source, codec: codec, logger: logger}
}

// Export writes an xlsx workbook of the payments created in [from, to) and returns how
// many rows it contains. Amounts are in major units; the last row holds the net settled
// total, which counts refund counter-entries against their originals.
func (e *Exporter) Export(ctx context.Context, from, to time.Time, w io.Writer) (int, error) {
	rows, err := e.source.Payments(ctx, from, to)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.WarnContext(ctx, "failed to close workbook", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("create header style: %w", err)
	}
	amountFmt := "#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		return 0, fmt.Errorf("create amount style: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return 0, fmt.Errorf("style header: %w", err)
	}

	var net int64
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		values := []interface{}{
			r.ID,
			r.Reference,
			r.UserID,
			r.Email.String,
			r.Type,
			r.Status,
			e.codec.FromMinorUnits(r.Amount).InexactFloat64(),
			r.Currency,
			r.Gateway.String,
			r.Method.String,
			nullableID(r),
			formatTime(r.PaidAt.Time, r.PaidAt.Valid),
			formatTime(r.CreatedAt, true),
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return 0, fmt.Errorf("write row %s: %w", r.Reference, err)
		}
		if settled(r.Status) {
			net += r.Amount
		}
	}

	totalRow := len(rows) + 2
	if len(rows) > 0 {
		if err := f.SetCellStyle(sheetName, "G2", fmt.Sprintf("G%d", totalRow), amountStyle); err != nil {
			return 0, fmt.Errorf("style amounts: %w", err)
		}
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("F%d", totalRow), "Net settled"); err != nil {
		return 0, err
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("G%d", totalRow), e.codec.FromMinorUnits(net).InexactFloat64()); err != nil {
		return 0, err
	}
	if err := f.SetRowStyle(sheetName, totalRow, totalRow, bold); err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(sheetName, fmt.Sprintf("G%d", totalRow), fmt.Sprintf("G%d", totalRow), amountStyle); err != nil {
		return 0, err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}

	e.logger.InfoContext(ctx, "ledger exported", "from", from, "to", to, "rows", len(rows), "net_minor", net)
	return len(rows), nil
}

// settled rows carry money that moved: completed payments, refunded originals and their
// negative counter-entries.
func settled(status string) bool {
	return status == string(payment.StatusCompleted) || status == string(payment.StatusRefunded)
}

func nullableID(r LedgerRow) interface{} {
	if !r.RefundOfID.Valid {
		return ""
	}
	return r.RefundOfID.Int64
}

func formatTime(t time.Time, ok bool) string {
	if !ok || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
