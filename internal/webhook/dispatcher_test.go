package webhook_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal"
	auditmodel "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/webhook"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
	})

	AfterEach(func() {
		f.close()
	})

	auditCount := func(action string) int64 {
		var n int64
		Expect(f.db.Model(&auditmodel.Entry{}).Where("action = ?", action).Count(&n).Error).To(Succeed())
		return n
	}

	eventRow := func(key string) webhook.Event {
		var ev webhook.Event
		Expect(f.db.Where("event_key = ?", key).First(&ev).Error).To(Succeed())
		return ev
	}

	eventCount := func() int64 {
		var n int64
		Expect(f.db.Model(&webhook.Event{}).Count(&n).Error).To(Succeed())
		return n
	}

	Context("charge.success", func() {
		It("verifies with the gateway, completes the payment and activates the enrollment", func() {
			body := chargeEvent("charge.success", "TUI_WH", 150000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateApplied))
			Expect(res.Duplicate).To(BeFalse())
			Expect(res.EventKey).To(Equal("paystack:charge.success:9001"))
			Expect(f.stub.verifyCalls.Load()).To(Equal(int64(1)))
			Expect(f.paymentStatus()).To(Equal(payment.StatusCompleted))
			Expect(f.enrollmentStatus()).To(Equal(enrollment.StatusActive))

			row := eventRow(res.EventKey)
			Expect(row.State).To(Equal(webhook.StateApplied))
			Expect(row.ProcessedAt).NotTo(BeNil())
			Expect(row.Reference).To(Equal("TUI_WH"))
		})

		It("ignores a second delivery of the same event", func() {
			body := chargeEvent("charge.success", "TUI_WH", 150000)
			_, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))
			Expect(err).NotTo(HaveOccurred())

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(res.State).To(Equal(webhook.StateApplied))
			Expect(f.stub.verifyCalls.Load()).To(Equal(int64(1)))
			Expect(eventCount()).To(Equal(int64(1)))
			Expect(auditCount("payment.completed")).To(Equal(int64(1)))
			Expect(auditCount("enrollment.activated")).To(Equal(int64(1)))
		})

		It("treats an event already held by another worker as a duplicate", func() {
			acquired, err := f.locker.Acquire(ctx, "webhook:paystack:charge.success:9001", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(acquired).To(BeTrue())

			body := chargeEvent("charge.success", "TUI_WH", 150000)
			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(eventCount()).To(BeZero())
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))
		})

		It("leaves the event for replay while the gateway still reports pending", func() {
			f.stub.txStatus.Store("ongoing")
			body := chargeEvent("charge.success", "TUI_WH", 150000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateFailed))
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))

			f.stub.txStatus.Store("success")
			replayed, err := f.dispatcher.Replay(ctx, 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(replayed).To(HaveLen(1))
			Expect(replayed[0].State).To(Equal(webhook.StateApplied))
			Expect(f.paymentStatus()).To(Equal(payment.StatusCompleted))

			row := eventRow(res.EventKey)
			Expect(row.State).To(Equal(webhook.StateApplied))
			Expect(row.Attempts).To(Equal(2))
		})

		It("keeps the payment pending and the event replayable when the gateway is down", func() {
			f.stub.statusCode.Store(http.StatusServiceUnavailable)
			body := chargeEvent("charge.success", "TUI_WH", 150000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateFailed))
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))

			row := eventRow(res.EventKey)
			Expect(row.LastError).NotTo(BeNil())
		})

		It("rejects an event for a reference it has never issued", func() {
			body := chargeEvent("charge.success", "TUI_UNKNOWN", 150000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateRejected))
			Expect(f.stub.verifyCalls.Load()).To(BeZero())
			Expect(auditCount("webhook.unknown_reference")).To(Equal(int64(1)))
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))
		})

		It("rejects a settlement for a different amount", func() {
			f.stub.txAmount.Store(100000)
			body := chargeEvent("charge.success", "TUI_WH", 100000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateRejected))
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))
			Expect(f.enrollmentStatus()).To(Equal(enrollment.StatusPending))
			Expect(auditCount("payment.amount_mismatch")).To(Equal(int64(1)))
			Expect(auditCount("webhook.rejected")).To(Equal(int64(1)))
		})
	})

	Context("charge.failed", func() {
		It("fails a pending payment without asking the gateway", func() {
			body := chargeEvent("charge.failed", "TUI_WH", 150000)

			res, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateApplied))
			Expect(f.stub.verifyCalls.Load()).To(BeZero())
			Expect(f.paymentStatus()).To(Equal(payment.StatusFailed))
		})

		It("does not undo a completed payment", func() {
			success := chargeEvent("charge.success", "TUI_WH", 150000)
			_, err := f.dispatcher.Handle(ctx, "paystack", success, signed(success))
			Expect(err).NotTo(HaveOccurred())

			failed := chargeEvent("charge.failed", "TUI_WH", 150000)
			res, err := f.dispatcher.Handle(ctx, "paystack", failed, signed(failed))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(webhook.StateApplied))
			Expect(f.paymentStatus()).To(Equal(payment.StatusCompleted))
			Expect(f.enrollmentStatus()).To(Equal(enrollment.StatusActive))
		})
	})

	Context("authenticity", func() {
		It("rejects a tampered body before touching any payment", func() {
			body := chargeEvent("charge.success", "TUI_WH", 150000)
			header := signed(body)
			tampered := chargeEvent("charge.success", "TUI_WH", 1)

			res, err := f.dispatcher.Handle(ctx, "paystack", tampered, header)

			Expect(res).To(BeNil())
			Expect(errors.Is(err, internal.ErrSignatureInvalid)).To(BeTrue())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(eventCount()).To(BeZero())
			Expect(f.stub.verifyCalls.Load()).To(BeZero())
			Expect(f.paymentStatus()).To(Equal(payment.StatusPending))
		})

		It("rejects a delivery without a signature", func() {
			body := chargeEvent("charge.success", "TUI_WH", 150000)

			_, err := f.dispatcher.Handle(ctx, "paystack", body, http.Header{})

			Expect(errors.Is(err, internal.ErrSignatureInvalid)).To(BeTrue())
			Expect(eventCount()).To(BeZero())
		})

		It("rejects a signed body that is not an event", func() {
			body := []byte(`{"data":{}}`)

			_, err := f.dispatcher.Handle(ctx, "paystack", body, signed(body))

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
			Expect(eventCount()).To(BeZero())
		})

		It("reports an unknown gateway", func() {
			body := chargeEvent("charge.success", "TUI_WH", 150000)

			_, err := f.dispatcher.Handle(ctx, "stripe", body, signed(body))

			Expect(errors.Is(err, internal.ErrUnknownGateway)).To(BeTrue())
		})
	})
})
