package notification

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

type Receipt struct {
	Reference   string
	Email       string
	PaymentType string
	Amount      string
	Currency    string
	Gateway     string
	PaidAt      time.Time
}

// RenderReceipt draws a one-page A4 receipt and returns the PDF bytes.
func RenderReceipt(r Receipt) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment receipt "+r.Reference, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Payment Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 12)
	rows := [][2]string{
		{"Reference", r.Reference},
		{"Billed to", r.Email},
		{"Payment for", r.PaymentType},
		{"Amount", fmt.Sprintf("%s %s", r.Currency, r.Amount)},
		{"Paid via", r.Gateway},
		{"Paid at", r.PaidAt.UTC().Format("02 Jan 2006 15:04 MST")},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(45, 9, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 12)
		pdf.CellFormat(0, 9, row[1], "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 10)
	pdf.Cell(0, 8, "Keep this receipt for your records.")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", r.Reference, err)
	}
	return buf.Bytes(), nil
}
