// Package notification holds the post-commit side effects of payment and enrollment
// changes: receipts, mail, SMS requests and the outbound event stream. Nothing here can
// fail or delay the transaction that produced the event.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/enrollment-payments/internal/core/events"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
)

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

type Streamer interface {
	PublishEvent(ctx context.Context, key string, event events.Event) error
	PublishSMS(ctx context.Context, req SMSRequest) error
}

type Subscriber interface {
	Subscribe(eventType string, handler events.Handler)
}

// Hooks reacts to bus events. A nil mailer or streamer switches that channel off.
type Hooks struct {
	mailer   Mailer
	streamer Streamer
	codec    money.Codec
	logger   *slog.Logger
}

func NewHooks(mailer Mailer, streamer Streamer, codec money.Codec, logger *slog.Logger) *Hooks {
	return &Hooks{
		mailer:   mailer,
		streamer: streamer,
		codec:    codec,
		logger:   logger,
	}
}

func (h *Hooks) Register(bus Subscriber) {
	bus.Subscribe(events.EventTypePaymentCompleted, h.onPaymentCompleted)
	bus.Subscribe(events.EventTypePaymentFailed, h.onPaymentFailed)
	bus.Subscribe(events.EventTypePaymentRefunded, h.onPaymentRefunded)
	bus.Subscribe(events.EventTypeEnrollmentActivated, h.onEnrollmentChanged)
	bus.Subscribe(events.EventTypeEnrollmentSuspended, h.onEnrollmentChanged)
}

func (h *Hooks) onPaymentCompleted(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
	}
	h.stream(ctx, e.Reference, event)

	amount := h.codec.Format(e.Amount)
	mail := Email{
		To:      e.Email,
		Subject: "Payment received: " + e.Reference,
		HTML: fmt.Sprintf("<p>We received your %s payment of <strong>%s %s</strong>.</p><p>Reference: %s</p>",
			humanType(e.PaymentType), e.Currency, amount, e.Reference),
	}
	pdf, err := RenderReceipt(Receipt{
		Reference:   e.Reference,
		Email:       e.Email,
		PaymentType: humanType(e.PaymentType),
		Amount:      amount,
		Currency:    e.Currency,
		Gateway:     e.Gateway,
		PaidAt:      e.PaidAt,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "receipt rendering failed, mailing without it", "reference", e.Reference, "error", err)
	} else {
		mail.Attachments = append(mail.Attachments, Attachment{Name: "receipt-" + e.Reference + ".pdf", Data: pdf})
	}
	h.mail(ctx, e.Reference, mail)

	h.sms(ctx, SMSRequest{
		UserID:    e.UserID,
		Template:  "payment_completed",
		Reference: e.Reference,
		Params:    map[string]string{"amount": amount, "currency": e.Currency},
		EventID:   e.ID,
	})
	return nil
}

func (h *Hooks) onPaymentFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
	}
	h.stream(ctx, e.Reference, event)
	h.mail(ctx, e.Reference, Email{
		To:      e.Email,
		Subject: "Payment not completed: " + e.Reference,
		HTML: fmt.Sprintf("<p>Your payment of %s %s did not go through.</p><p>Reference: %s</p>",
			e.Currency, h.codec.Format(e.Amount), e.Reference),
	})
	h.sms(ctx, SMSRequest{
		UserID:    e.UserID,
		Template:  "payment_failed",
		Reference: e.Reference,
		EventID:   e.ID,
	})
	return nil
}

func (h *Hooks) onPaymentRefunded(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentRefundedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
	}
	amount := h.codec.Format(e.Amount)
	h.stream(ctx, e.Reference, event)
	h.mail(ctx, e.Reference, Email{
		To:      e.Email,
		Subject: "Refund issued: " + e.Reference,
		HTML: fmt.Sprintf("<p>A refund of <strong>%s %s</strong> was issued against payment %s.</p>",
			e.Currency, amount, e.Reference),
	})
	h.sms(ctx, SMSRequest{
		UserID:    e.UserID,
		Template:  "payment_refunded",
		Reference: e.Reference,
		Params:    map[string]string{"amount": amount, "currency": e.Currency},
		EventID:   e.ID,
	})
	return nil
}

func (h *Hooks) onEnrollmentChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.EnrollmentChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
	}
	h.stream(ctx, e.PaymentReference, event)

	subject, body, template := "Enrollment active", "<p>Your enrollment is now active. Welcome aboard.</p>", "enrollment_activated"
	if e.EventType() == events.EventTypeEnrollmentSuspended {
		subject, body, template = "Enrollment suspended", "<p>Your enrollment has been suspended following a refund.</p>", "enrollment_suspended"
	}
	h.mail(ctx, e.PaymentReference, Email{To: e.Email, Subject: subject, HTML: body})
	h.sms(ctx, SMSRequest{
		UserID:    e.UserID,
		Template:  template,
		Reference: e.PaymentReference,
		Params:    map[string]string{"course_id": fmt.Sprint(e.CourseID)},
		EventID:   e.ID,
	})
	return nil
}

func (h *Hooks) stream(ctx context.Context, key string, event events.Event) {
	if h.streamer == nil {
		return
	}
	if err := h.streamer.PublishEvent(ctx, key, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to stream event", "event_type", event.EventType(), "event_id", event.EventID(), "error", err)
	}
}

func (h *Hooks) mail(ctx context.Context, reference string, email Email) {
	if h.mailer == nil {
		return
	}
	if email.To == "" {
		h.logger.WarnContext(ctx, "no email address on record, skipping mail", "reference", reference)
		return
	}
	if err := h.mailer.Send(ctx, email); err != nil {
		h.logger.ErrorContext(ctx, "failed to send notification email", "reference", reference, "error", err)
	}
}

func (h *Hooks) sms(ctx context.Context, req SMSRequest) {
	if h.streamer == nil {
		return
	}
	if err := h.streamer.PublishSMS(ctx, req); err != nil {
		h.logger.ErrorContext(ctx, "failed to request sms", "template", req.Template, "reference", req.Reference, "error", err)
	}
}

func humanType(paymentType string) string {
	return strings.ReplaceAll(strings.ToLower(paymentType), "_", " ")
}
