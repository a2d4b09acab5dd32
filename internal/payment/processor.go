package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/paymentgateway"
)

// Gateway statuses that mean the customer walked away without paying.
var abandonedStatuses = map[string]bool{
	"abandoned": true,
	"created":   true,
	"attempted": true,
}

// Reconcile is the one verify-then-transition step shared by the webhook, admin confirm,
// student verify and the sweeper. Local state never moves to COMPLETED without a
// successful verify.
func (s *Service) Reconcile(ctx context.Context, ref, actor string) (*ReconcileResult, error) {
	p, err := s.repo.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Status == payment.StatusCompleted {
		return &ReconcileResult{Payment: p, GatewayStatus: paymentgatewaytypes.VerificationSuccess}, nil
	}

	v, err := s.verify(ctx, p)
	if err != nil {
		s.logger.WarnContext(ctx, "gateway verify failed, payment left as is",
			"reference", ref,
			"status", p.Status,
			"actor", actor,
			"error", err)
		return nil, errors.NewGatewayError(err)
	}
	return s.apply(ctx, p, v, actor, false)
}

// Expire fails a stale PENDING payment once the gateway reports it abandoned or has
// never heard of it. A payment that turns out to be paid is completed instead.
func (s *Service) Expire(ctx context.Context, ref, actor string) (*ReconcileResult, error) {
	p, err := s.repo.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusPending {
		return &ReconcileResult{Payment: p}, nil
	}

	v, err := s.verify(ctx, p)
	if paymentgateway.IsNotFound(err) {
		return s.fail(ctx, p, nil, "not found at gateway", actor, "")
	}
	if err != nil {
		return nil, errors.NewGatewayError(err)
	}
	return s.apply(ctx, p, v, actor, true)
}

func (s *Service) verify(ctx context.Context, p *payment.Payment) (*paymentgatewaytypes.Verification, error) {
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := errors.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()
	return paymentgateway.Do(callCtx, s.config.Retry, func(ctx context.Context) (*paymentgatewaytypes.Verification, error) {
		return gw.Verify(ctx, p.Reference)
	})
}

func (s *Service) apply(ctx context.Context, p *payment.Payment, v *paymentgatewaytypes.Verification, actor string, expiring bool) (*ReconcileResult, error) {
	switch v.Status {
	case paymentgatewaytypes.VerificationSuccess:
		if err := s.checkAmount(ctx, p, v, actor); err != nil {
			return nil, err
		}
		paidAt := time.Time{}
		if v.PaidAt != nil {
			paidAt = *v.PaidAt
		}
		res, err := s.ledger.MarkCompleted(ctx, p.Reference, paidAt, v.Raw, v.Channel, actor)
		if err != nil {
			return nil, err
		}
		return &ReconcileResult{Payment: res.Payment, GatewayStatus: v.Status, Changed: res.Changed}, nil

	case paymentgatewaytypes.VerificationFailed:
		if p.Status != payment.StatusPending {
			return &ReconcileResult{Payment: p, GatewayStatus: v.Status}, nil
		}
		return s.fail(ctx, p, v, "gateway reported "+v.GatewayStatus, actor, v.Status)

	default:
		if expiring && abandonedStatuses[strings.ToLower(v.GatewayStatus)] {
			return s.fail(ctx, p, v, "abandoned at gateway", actor, v.Status)
		}
		s.logger.DebugContext(ctx, "payment still pending at gateway",
			"reference", p.Reference,
			"gateway_status", v.GatewayStatus)
		return &ReconcileResult{Payment: p, GatewayStatus: v.Status}, nil
	}
}

func (s *Service) fail(ctx context.Context, p *payment.Payment, v *paymentgatewaytypes.Verification, reason, actor string, status paymentgatewaytypes.VerificationStatus) (*ReconcileResult, error) {
	var raw []byte
	if v != nil {
		raw = v.Raw
	}
	res, err := s.ledger.MarkFailed(ctx, p.Reference, raw, reason, actor)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Payment: res.Payment, GatewayStatus: status, Changed: res.Changed}, nil
}

// checkAmount refuses to complete a payment the gateway settled for a different sum.
func (s *Service) checkAmount(ctx context.Context, p *payment.Payment, v *paymentgatewaytypes.Verification, actor string) error {
	amountOK := v.Amount == p.Amount
	currencyOK := v.Currency == "" || strings.EqualFold(v.Currency, p.Currency)
	if amountOK && currencyOK {
		return nil
	}

	s.logger.ErrorContext(ctx, "gateway amount does not match payment",
		"reference", p.Reference,
		"expected_amount", p.Amount,
		"expected_currency", p.Currency,
		"gateway_amount", v.Amount,
		"gateway_currency", v.Currency)

	expected := p.Amount
	if err := s.audit.Record(ctx, nil, audit.Record{
		Actor:        actor,
		Action:       audit.ActionPaymentAmountMismatch,
		ResourceType: "payment",
		ResourceID:   p.Reference,
		FromStatus:   string(p.Status),
		ToStatus:     string(p.Status),
		Amount:       &expected,
		Metadata: map[string]interface{}{
			"gateway_amount":   v.Amount,
			"gateway_currency": v.Currency,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record amount mismatch", "reference", p.Reference, "error", err)
	}

	return errors.NewAmountMismatchError(fmt.Sprintf(
		"gateway settled %d %s, expected %d %s", v.Amount, v.Currency, p.Amount, p.Currency))
}
