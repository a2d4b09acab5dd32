package notification_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/events"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/notification"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

var _ = Describe("EmailSender", func() {
	It("builds the message with attachments", func() {
		dialer := &fakeDialer{}
		sender := notification.NewEmailSenderWithDialer(dialer, "billing@school.test", logger.Discard())

		err := sender.Send(context.Background(), notification.Email{
			To:          "ama@example.com",
			Subject:     "Payment received",
			HTML:        "<p>hi</p>",
			Attachments: []notification.Attachment{{Name: "receipt.pdf", Data: []byte("%PDF")}},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(dialer.sent).To(HaveLen(1))
		msg := dialer.sent[0]
		Expect(msg.GetHeader("From")).To(ConsistOf("billing@school.test"))
		Expect(msg.GetHeader("To")).To(ConsistOf("ama@example.com"))
		Expect(msg.GetHeader("Subject")).To(ConsistOf("Payment received"))

		var raw bytes.Buffer
		_, err = msg.WriteTo(&raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.String()).To(ContainSubstring(`filename="receipt.pdf"`))
	})

	It("refuses a mail without recipient", func() {
		sender := notification.NewEmailSenderWithDialer(&fakeDialer{}, "billing@school.test", logger.Discard())
		Expect(sender.Send(context.Background(), notification.Email{Subject: "x"})).NotTo(Succeed())
	})

	It("wraps dialer failures", func() {
		sender := notification.NewEmailSenderWithDialer(&fakeDialer{err: errors.New("connection refused")}, "billing@school.test", logger.Discard())
		err := sender.Send(context.Background(), notification.Email{To: "ama@example.com"})
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})
})

var _ = Describe("Stream", func() {
	var (
		writer *fakeWriter
		stream *notification.Stream
	)

	BeforeEach(func() {
		writer = &fakeWriter{}
		stream = notification.NewStream(writer, internal.KafkaConfig{
			EventsTopic: "payments.events",
			SMSTopic:    "notifications.sms",
		}, logger.Discard())
	})

	It("writes domain events keyed by reference", func() {
		ev := events.NewPaymentFailedEvent(3, "TUI_1", 7, "ama@example.com", 1000, "GHS", "declined")

		Expect(stream.PublishEvent(context.Background(), "TUI_1", ev)).To(Succeed())

		Expect(writer.messages).To(HaveLen(1))
		msg := writer.messages[0]
		Expect(msg.Topic).To(Equal("payments.events"))
		Expect(string(msg.Key)).To(Equal("TUI_1"))

		var body map[string]interface{}
		Expect(json.Unmarshal(msg.Value, &body)).To(Succeed())
		Expect(body["type"]).To(Equal("payment.failed"))
		Expect(body["id"]).To(Equal(ev.ID))
		Expect(body["data"]).To(HaveKeyWithValue("reason", "declined"))
	})

	It("writes sms requests to their own topic", func() {
		Expect(stream.PublishSMS(context.Background(), notification.SMSRequest{UserID: 7, Template: "payment_failed"})).To(Succeed())

		Expect(writer.messages).To(HaveLen(1))
		Expect(writer.messages[0].Topic).To(Equal("notifications.sms"))
		Expect(string(writer.messages[0].Key)).To(Equal("user-7"))
	})

	It("reports broker errors", func() {
		writer.err = errors.New("leader not available")
		err := stream.PublishSMS(context.Background(), notification.SMSRequest{UserID: 7})
		Expect(err).To(MatchError(ContainSubstring("notifications.sms")))
	})
})

var _ = Describe("RenderReceipt", func() {
	It("produces a PDF document", func() {
		pdf, err := notification.RenderReceipt(notification.Receipt{
			Reference:   "TUI_1",
			Email:       "ama@example.com",
			PaymentType: "tuition",
			Amount:      "1,500.00",
			Currency:    "GHS",
			Gateway:     "paystack",
			PaidAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(pdf, []byte("%PDF"))).To(BeTrue())
	})
})

var _ = Describe("Hooks", func() {
	var (
		bus      *events.EventBus
		mailer   *fakeMailer
		streamer *fakeStreamer
	)

	BeforeEach(func() {
		bus = events.NewEventBus(logger.Discard())
		mailer = &fakeMailer{}
		streamer = &fakeStreamer{}
		notification.NewHooks(mailer, streamer, money.NewCodec(2), logger.Discard()).Register(bus)
	})

	completed := func() events.Event {
		return events.NewPaymentCompletedEvent(3, "TUI_1", 7, "ama@example.com", "TUITION", 150000, "GHS", "paystack",
			time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), nil)
	}

	It("mails a receipt, requests an sms and streams the completion", func() {
		Expect(bus.Publish(context.Background(), completed())).To(Succeed())
		bus.Wait()

		emails := mailer.sent()
		Expect(emails).To(HaveLen(1))
		Expect(emails[0].To).To(Equal("ama@example.com"))
		Expect(emails[0].HTML).To(ContainSubstring("GHS 1500.00"))
		Expect(emails[0].Attachments).To(HaveLen(1))
		Expect(emails[0].Attachments[0].Name).To(Equal("receipt-TUI_1.pdf"))
		Expect(streamer.streamed()).To(ConsistOf("payment.completed@TUI_1"))
		Expect(streamer.templates()).To(ConsistOf("payment_completed"))
	})

	It("still streams when mail delivery fails", func() {
		mailer.err = errors.New("smtp down")

		Expect(bus.Publish(context.Background(), completed())).To(Succeed())
		bus.Wait()

		Expect(streamer.streamed()).To(HaveLen(1))
	})

	It("never surfaces channel failures to the publisher", func() {
		mailer.err = errors.New("smtp down")
		streamer.fail = true

		Expect(bus.PublishSync(context.Background(), completed())).To(Succeed())
	})

	It("tells activation and suspension apart", func() {
		Expect(bus.PublishSync(context.Background(), events.NewEnrollmentActivatedEvent(1, 7, 2, "ama@example.com", "TUI_1"))).To(Succeed())
		Expect(bus.PublishSync(context.Background(), events.NewEnrollmentSuspendedEvent(1, 7, 2, "ama@example.com", "REFUND_TUI_1"))).To(Succeed())

		Expect(streamer.templates()).To(Equal([]string{"enrollment_activated", "enrollment_suspended"}))
		subjects := []string{}
		for _, e := range mailer.sent() {
			subjects = append(subjects, e.Subject)
		}
		Expect(subjects).To(Equal([]string{"Enrollment active", "Enrollment suspended"}))
	})

	It("skips mail when no address is on record", func() {
		ev := events.NewPaymentFailedEvent(3, "TUI_1", 7, "", 1000, "GHS", "declined")

		Expect(bus.PublishSync(context.Background(), ev)).To(Succeed())

		Expect(mailer.sent()).To(BeEmpty())
		Expect(streamer.templates()).To(ConsistOf("payment_failed"))
	})
})
