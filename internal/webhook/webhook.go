package webhook

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/webhook"
	"github.com/frahmantamala/enrollment-payments/internal/core/lock"
	paymentpkg "github.com/frahmantamala/enrollment-payments/internal/payment"
	"github.com/frahmantamala/enrollment-payments/internal/paymentgateway"
)

// RepositoryAPI is the durable record of inbound events. Claim inserts the event or
// takes over a FAILED or stale PROCESSING row; it reports false when someone else owns it.
type RepositoryAPI interface {
	Claim(ctx context.Context, ev *webhook.Event, staleBefore time.Time) (bool, error)
	Finish(ctx context.Context, id int64, state webhook.State, lastError string) error
	ListFailed(ctx context.Context, limit int) ([]webhook.Event, error)
}

type PaymentReconciler interface {
	Reconcile(ctx context.Context, reference, actor string) (*paymentpkg.ReconcileResult, error)
}

type PaymentLedger interface {
	MarkFailed(ctx context.Context, reference string, metadata json.RawMessage, reason, actor string) (*paymentpkg.TransitionResult, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, rec audit.Record) error
}

// Result is what the endpoint reports back to the gateway.
type Result struct {
	EventID   int64         `json:"event_id,omitempty"`
	EventKey  string        `json:"event_key"`
	State     webhook.State `json:"state"`
	Duplicate bool          `json:"duplicate"`
}

type Dispatcher struct {
	repo     RepositoryAPI
	gateways *paymentgateway.Registry
	payments PaymentReconciler
	ledger   PaymentLedger
	audit    AuditRecorder
	locker   lock.Locker
	lease    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(repo RepositoryAPI, gateways *paymentgateway.Registry, payments PaymentReconciler, ledger PaymentLedger, auditRecorder AuditRecorder, locker lock.Locker, lease time.Duration, logger *slog.Logger) *Dispatcher {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Dispatcher{
		repo:     repo,
		gateways: gateways,
		payments: payments,
		ledger:   ledger,
		audit:    auditRecorder,
		locker:   locker,
		lease:    lease,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle verifies the signature over the raw body before anything else looks at it,
// records the event, then applies it. Once the event row exists the caller answers 200
// whatever the business outcome.
func (d *Dispatcher) Handle(ctx context.Context, gatewayName string, rawBody []byte, header http.Header) (*Result, error) {
	gw, err := d.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	signature := header.Get(gw.SignatureHeader())
	if signature == "" || !gw.VerifySignature(rawBody, signature) {
		d.logger.WarnContext(ctx, "webhook signature rejected",
			"gateway", gw.Name(),
			"body_bytes", len(rawBody),
			"has_signature", signature != "")
		return nil, errors.NewSignatureInvalidError()
	}

	ev, err := gw.ParseEvent(rawBody)
	if err != nil {
		return nil, errors.NewValidationError("malformed webhook payload", errors.ErrCodeValidationFailed).WithCause(err)
	}

	return d.dispatch(ctx, gw.Name(), ev, rawBody, signature)
}

// Replay re-runs events left FAILED. Their signatures were checked on receipt.
func (d *Dispatcher) Replay(ctx context.Context, limit int) ([]*Result, error) {
	failed, err := d.repo.ListFailed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed webhook events: %w", err)
	}

	results := make([]*Result, 0, len(failed))
	for _, row := range failed {
		gw, err := d.gateways.Get(row.Gateway)
		if err != nil {
			d.logger.ErrorContext(ctx, "cannot replay event for unknown gateway", "event_id", row.ID, "gateway", row.Gateway)
			continue
		}
		ev, err := gw.ParseEvent(row.Payload)
		if err != nil {
			d.logger.ErrorContext(ctx, "cannot parse stored webhook payload", "event_id", row.ID, "error", err)
			continue
		}
		res, err := d.dispatch(ctx, gw.Name(), ev, row.Payload, row.Signature)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, gatewayName string, ev *paymentgatewaytypes.ChargeEvent, rawBody []byte, signature string) (*Result, error) {
	key := ev.DedupKey(gatewayName)
	result := &Result{EventKey: key}

	acquired, err := d.locker.Acquire(ctx, "webhook:"+key, d.lease)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook lock unavailable, relying on event row", "event_key", key, "error", err)
	} else if !acquired {
		d.logger.InfoContext(ctx, "webhook event already in flight", "event_key", key)
		result.Duplicate = true
		result.State = webhook.StateProcessing
		return result, nil
	} else {
		defer func() {
			if err := d.locker.Release(context.WithoutCancel(ctx), "webhook:"+key); err != nil {
				d.logger.WarnContext(ctx, "failed to release webhook lock", "event_key", key, "error", err)
			}
		}()
	}

	row := &webhook.Event{
		Gateway:   gatewayName,
		EventKey:  key,
		EventType: ev.Type,
		Reference: ev.Reference,
		Signature: signature,
		Payload:   datatypes.JSON(rawBody),
		State:     webhook.StateProcessing,
		Attempts:  1,
	}
	claimed, err := d.repo.Claim(ctx, row, d.now().Add(-d.lease))
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	result.EventID = row.ID
	result.State = row.State
	if !claimed {
		d.logger.InfoContext(ctx, "duplicate webhook delivery ignored",
			"event_key", key,
			"state", row.State)
		result.Duplicate = true
		return result, nil
	}

	actor := errors.SystemActor("webhook-" + gatewayName).String()
	state, procErr := d.process(ctx, ev, actor)

	lastError := ""
	if procErr != nil {
		lastError = procErr.Error()
	}
	// The outcome must be recorded even when the request context is gone.
	if err := d.repo.Finish(context.WithoutCancel(ctx), row.ID, state, lastError); err != nil {
		d.logger.ErrorContext(ctx, "failed to record webhook outcome", "event_key", key, "state", state, "error", err)
	}

	d.logger.InfoContext(ctx, "webhook event processed",
		"event_key", key,
		"event_type", ev.Type,
		"reference", ev.Reference,
		"state", state)
	result.State = state
	return result, nil
}

func (d *Dispatcher) process(ctx context.Context, ev *paymentgatewaytypes.ChargeEvent, actor string) (webhook.State, error) {
	switch ev.Type {
	case paymentgatewaytypes.EventChargeSuccess:
		res, err := d.payments.Reconcile(ctx, ev.Reference, actor)
		if err != nil {
			return d.classify(ctx, ev, actor, err), err
		}
		if res.Payment.Status == payment.StatusPending {
			// The gateway has not settled yet; leave the event for replay.
			return webhook.StateFailed, fmt.Errorf("gateway still reports %s", res.GatewayStatus)
		}
		return webhook.StateApplied, nil

	case paymentgatewaytypes.EventChargeFailed:
		_, err := d.ledger.MarkFailed(ctx, ev.Reference, ev.Raw, "charge.failed webhook", actor)
		if stderrors.Is(err, errors.ErrIllegalTransition) {
			d.logger.InfoContext(ctx, "charge.failed for a settled payment ignored", "reference", ev.Reference)
			return webhook.StateApplied, nil
		}
		if err != nil {
			return d.classify(ctx, ev, actor, err), err
		}
		return webhook.StateApplied, nil

	default:
		d.logger.DebugContext(ctx, "webhook event type not handled", "event_type", ev.Type)
		return webhook.StateApplied, nil
	}
}

// classify decides whether a failed event is worth replaying. Rejections are permanent.
func (d *Dispatcher) classify(ctx context.Context, ev *paymentgatewaytypes.ChargeEvent, actor string, err error) webhook.State {
	switch {
	case stderrors.Is(err, errors.ErrPaymentNotFound):
		d.logger.WarnContext(ctx, "webhook for unknown payment reference", "reference", ev.Reference, "event_type", ev.Type)
		d.record(ctx, actor, audit.ActionWebhookUnknownReference, ev, err)
		return webhook.StateRejected

	case stderrors.Is(err, errors.ErrIllegalTransition),
		stderrors.Is(err, errors.ErrActivationFailed),
		stderrors.Is(err, errors.ErrAmountMismatch):
		d.logger.ErrorContext(ctx, "webhook event rejected", "reference", ev.Reference, "event_type", ev.Type, "error", err)
		d.record(ctx, actor, audit.ActionWebhookRejected, ev, err)
		return webhook.StateRejected

	default:
		d.logger.WarnContext(ctx, "webhook event failed, will be replayed", "reference", ev.Reference, "error", err)
		return webhook.StateFailed
	}
}

func (d *Dispatcher) record(ctx context.Context, actor, action string, ev *paymentgatewaytypes.ChargeEvent, cause error) {
	if err := d.audit.Record(ctx, nil, audit.Record{
		Actor:        actor,
		Action:       action,
		ResourceType: "payment",
		ResourceID:   ev.Reference,
		Metadata: map[string]interface{}{
			"event_type": ev.Type,
			"event_id":   ev.EventID,
			"amount":     ev.Amount,
			"error":      cause.Error(),
		},
	}); err != nil {
		d.logger.ErrorContext(ctx, "failed to audit webhook event", "reference", ev.Reference, "error", err)
	}
}
