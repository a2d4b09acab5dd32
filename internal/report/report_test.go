package report_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/core/testdb"
	"github.com/frahmantamala/enrollment-payments/internal/report"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

var _ = Describe("Exporter", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		exporter *report.Exporter
		day      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = testdb.MustOpen()
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		exporter = report.NewExporter(report.NewStore(sqlx.NewDb(sqlDB, "sqlite3")), money.NewCodec(2), logger.Discard())
		day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	})

	insert := func(p *payment.Payment) *payment.Payment {
		p.UserID = 7
		p.Currency = "GHS"
		p.Gateway = "paystack"
		Expect(db.Create(p).Error).To(Succeed())
		return p
	}

	open := func(buf *bytes.Buffer) [][]string {
		f, err := excelize.OpenReader(buf)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows("Ledger")
		Expect(err).NotTo(HaveOccurred())
		return rows
	}

	It("exports the window in major units with the net settled total", func() {
		paidAt := day.Add(10 * time.Hour)
		original := insert(&payment.Payment{Type: payment.TypeTuition, Amount: 150000, Status: payment.StatusRefunded,
			Reference: "TUI_1", Email: "ama@example.com", PaidAt: &paidAt, CreatedAt: day.Add(9 * time.Hour)})
		insert(&payment.Payment{Type: payment.TypeTuition, Amount: -50000, Status: payment.StatusCompleted,
			Reference: "REFUND_TUI_1", RefundOfID: &original.ID, CreatedAt: day.Add(11 * time.Hour)})
		insert(&payment.Payment{Type: payment.TypeApplicationFee, Amount: 2500, Status: payment.StatusPending,
			Reference: "APP_1", CreatedAt: day.Add(12 * time.Hour)})
		insert(&payment.Payment{Type: payment.TypeApplicationFee, Amount: 2500, Status: payment.StatusCompleted,
			Reference: "APP_OUTSIDE", CreatedAt: day.Add(48 * time.Hour)})

		var buf bytes.Buffer
		n, err := exporter.Export(ctx, day, day.Add(24*time.Hour), &buf)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		rows := open(&buf)
		Expect(rows).To(HaveLen(5))
		Expect(rows[0][1]).To(Equal("Reference"))
		Expect(rows[1][1]).To(Equal("TUI_1"))
		Expect(rows[1][6]).To(Equal("1,500.00"))
		Expect(rows[1][11]).To(Equal("2026-03-01T10:00:00Z"))
		Expect(rows[2][1]).To(Equal("REFUND_TUI_1"))
		Expect(rows[2][6]).To(Equal("-500.00"))
		Expect(rows[3][1]).To(Equal("APP_1"))
		Expect(rows[4][5]).To(Equal("Net settled"))
		Expect(rows[4][6]).To(Equal("1,000.00"))
	})

	It("writes a header and a zero total for an empty window", func() {
		var buf bytes.Buffer
		n, err := exporter.Export(ctx, day, day.Add(time.Hour), &buf)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		rows := open(&buf)
		Expect(rows).To(HaveLen(2))
		Expect(rows[1][5]).To(Equal("Net settled"))
	})
})

type fakeExporter struct {
	from, to time.Time
	err      error
}

func (f *fakeExporter) Export(_ context.Context, from, to time.Time, w io.Writer) (int, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return 0, f.err
	}
	_, err := w.Write([]byte("PK"))
	return 1, err
}

var _ = Describe("Handler", func() {
	var (
		exporter *fakeExporter
		handler  *report.Handler
	)

	BeforeEach(func() {
		exporter = &fakeExporter{}
		handler = report.NewHandler(exporter, logger.Discard())
	})

	serve := func(actor *internal.Actor, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/payments/export"+query, nil)
		if actor != nil {
			req = req.WithContext(internal.ContextWithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		handler.ExportLedger(rec, req)
		return rec
	}

	admin := &internal.Actor{UserID: 1, Role: internal.RoleAdmin}

	It("streams the workbook for the requested window", func() {
		rec := serve(admin, "?from=2026-03-01&to=2026-04-01")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
		Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("ledger_20260301_20260401.xlsx"))
		Expect(exporter.from).To(Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
		Expect(exporter.to).To(Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("refuses students", func() {
		rec := serve(&internal.Actor{UserID: 7, Role: internal.RoleStudent}, "")
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("requires authentication", func() {
		Expect(serve(nil, "").Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects an inverted window", func() {
		rec := serve(admin, "?from=2026-04-01&to=2026-03-01")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects malformed dates", func() {
		rec := serve(admin, "?from=March")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps export failures", func() {
		exporter.err = errors.New("db gone")
		rec := serve(admin, "")
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
	})
})
