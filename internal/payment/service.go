package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/core/reference"
	"github.com/frahmantamala/enrollment-payments/internal/paymentgateway"
)

type ServiceAPI interface {
	Initialize(ctx context.Context, actor errors.Actor, dto *InitializePaymentDTO) (*InitializeResponse, error)
	Verify(ctx context.Context, actor errors.Actor, reference string) (*ReconcileResult, error)
	Confirm(ctx context.Context, actor errors.Actor, paymentID int64) (*ReconcileResult, error)
	Refund(ctx context.Context, actor errors.Actor, paymentID int64, dto *RefundDTO) (*RefundResult, error)
	Get(ctx context.Context, actor errors.Actor, paymentID int64) (*payment.Payment, error)
	ListByUser(ctx context.Context, actor errors.Actor, limit, offset int) ([]*payment.Payment, error)
	Reconcile(ctx context.Context, reference, actor string) (*ReconcileResult, error)
	Expire(ctx context.Context, reference, actor string) (*ReconcileResult, error)
}

type ServiceConfig struct {
	Currency      string
	CallbackURL   string
	VerifyTimeout time.Duration
	Retry         paymentgateway.RetryPolicy
}

type Service struct {
	repo     RepositoryAPI
	ledger   *Ledger
	pricing  Pricing
	gateways *paymentgateway.Registry
	audit    AuditRecorder
	codec    money.Codec
	config   ServiceConfig
	logger   *slog.Logger
}

func NewService(repo RepositoryAPI, ledger *Ledger, pricing Pricing, gateways *paymentgateway.Registry, auditRecorder AuditRecorder, codec money.Codec, config ServiceConfig, logger *slog.Logger) *Service {
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = 15 * time.Second
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		pricing:  pricing,
		gateways: gateways,
		audit:    auditRecorder,
		codec:    codec,
		config:   config,
		logger:   logger,
	}
}

var referencePrefixes = map[payment.Type]string{
	payment.TypeApplicationFee: "APP",
	payment.TypeTuition:        "TUI",
	payment.TypeInstallment:    "INS",
}

// Initialize writes the PENDING row before talking to the gateway, so the reference is
// already reserved when the provider first sees it. A gateway failure leaves the row PENDING.
// The amount must equal what the course or installment costs.
func (s *Service) Initialize(ctx context.Context, actor errors.Actor, dto *InitializePaymentDTO) (*InitializeResponse, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	amount, err := minorAmount(s.codec, "amount", dto.Amount)
	if err != nil {
		return nil, err
	}

	userID := actor.UserID
	if dto.UserID != nil && *dto.UserID != actor.UserID {
		if !actor.IsAdmin() {
			return nil, errors.NewForbiddenError("cannot initialize a payment for another user", errors.ErrCodeForbidden)
		}
		userID = *dto.UserID
	}

	paymentType := payment.Type(dto.Type)
	due, err := s.pricing.AmountDue(ctx, paymentType, dto.CourseID, dto.InstallmentID)
	if err != nil {
		return nil, err
	}
	if amount != due {
		return nil, errors.NewValidationFieldError("amount",
			"amount must be "+s.codec.Format(due), errors.ErrCodeInvalidAmount)
	}

	currency := strings.ToUpper(dto.Currency)
	if currency == "" {
		currency = strings.ToUpper(s.config.Currency)
	}

	gw, err := s.gateways.Get(dto.Gateway)
	if err != nil {
		return nil, err
	}

	p, err := s.ledger.CreatePending(ctx, CreatePendingParams{
		UserID:        userID,
		Email:         dto.Email,
		Type:          paymentType,
		Amount:        amount,
		Currency:      currency,
		Reference:     reference.New(referencePrefixes[paymentType]),
		Gateway:       gw.Name(),
		CourseID:      dto.CourseID,
		EnrollmentID:  dto.EnrollmentID,
		InstallmentID: dto.InstallmentID,
		Metadata:      dto.Metadata,
	}, actor.String())
	if err != nil {
		return nil, err
	}

	callbackURL := dto.CallbackURL
	if callbackURL == "" {
		callbackURL = s.config.CallbackURL
	}
	req := &paymentgatewaytypes.InitializeRequest{
		Email:       p.Email,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Reference:   p.Reference,
		CallbackURL: callbackURL,
		Metadata: map[string]interface{}{
			"payment_id": p.ID,
			"user_id":    p.UserID,
			"type":       p.Type,
		},
	}

	callCtx, cancel := errors.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()
	started, err := paymentgateway.Do(callCtx, s.config.Retry, func(ctx context.Context) (*paymentgatewaytypes.InitializeResult, error) {
		return gw.Initialize(ctx, req)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "gateway initialize failed, payment left pending",
			"reference", p.Reference,
			"gateway", gw.Name(),
			"error", err)
		return nil, errors.NewGatewayError(err)
	}

	s.logger.InfoContext(ctx, "payment initialized",
		"reference", p.Reference,
		"gateway", gw.Name(),
		"user_id", p.UserID)

	return &InitializeResponse{
		PaymentID:        p.ID,
		Reference:        p.Reference,
		AuthorizationURL: started.AuthorizationURL,
		AccessCode:       started.AccessCode,
		Amount:           s.codec.FromMinorUnits(p.Amount),
		Currency:         p.Currency,
		Gateway:          p.Gateway,
	}, nil
}

// Verify is the student-facing return from the gateway checkout.
func (s *Service) Verify(ctx context.Context, actor errors.Actor, ref string) (*ReconcileResult, error) {
	p, err := s.repo.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, p); err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, ref, actor.String())
}

// Confirm is the admin path; it runs the same reconcile step as the webhook.
func (s *Service) Confirm(ctx context.Context, actor errors.Actor, paymentID int64) (*ReconcileResult, error) {
	if !actor.IsAdmin() {
		return nil, errors.NewForbiddenError("admin role required", errors.ErrCodeForbidden)
	}
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.IsRefund() {
		return nil, errors.NewIllegalTransitionError(string(p.Status), string(payment.StatusCompleted))
	}
	return s.Reconcile(ctx, p.Reference, actor.String())
}

func (s *Service) Refund(ctx context.Context, actor errors.Actor, paymentID int64, dto *RefundDTO) (*RefundResult, error) {
	if !actor.IsAdmin() {
		return nil, errors.NewForbiddenError("admin role required", errors.ErrCodeForbidden)
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	var amount *int64
	if dto.Amount != nil {
		minor, err := minorAmount(s.codec, "amount", *dto.Amount)
		if err != nil {
			return nil, err
		}
		amount = &minor
	}
	return s.ledger.Refund(ctx, paymentID, amount, dto.Reason, actor.String())
}

func (s *Service) Get(ctx context.Context, actor errors.Actor, paymentID int64) (*payment.Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListByUser(ctx context.Context, actor errors.Actor, limit, offset int) ([]*payment.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, actor.UserID, limit, offset)
}

// authorize hides other users' payments behind a not-found.
func authorize(actor errors.Actor, p *payment.Payment) error {
	if actor.IsAdmin() || actor.UserID == p.UserID {
		return nil
	}
	return errors.NewNotFoundError("payment not found", errors.ErrCodePaymentNotFound)
}
