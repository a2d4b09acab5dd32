package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/activation"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	auditmodel "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/core/testdb"
	enrollmentpostgres "github.com/frahmantamala/enrollment-payments/internal/enrollment/postgres"
	paymentpkg "github.com/frahmantamala/enrollment-payments/internal/payment"
	"github.com/frahmantamala/enrollment-payments/internal/payment/postgres"
	"github.com/frahmantamala/enrollment-payments/internal/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		gateway *fakeGateway
		service *paymentpkg.Service
		student internal.Actor
		admin   internal.Actor
		course  *enrollment.Course
		enr     *enrollment.Enrollment
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = testdb.MustOpen()
		lg := logger.Discard()
		recorder := audit.NewRecorder(db, lg)
		repo := postgres.NewPaymentRepository(db)
		engine := activation.NewEngine(enrollmentpostgres.NewEnrollmentRepository(db), recorder, lg)
		ledger := paymentpkg.NewLedger(db, repo, engine, recorder, &recordingPublisher{}, lg)

		gateway = &fakeGateway{}
		gateway.report(paymentgatewaytypes.VerificationPending, "ongoing")
		registry := paymentgateway.NewRegistry("paystack", gateway)

		service = paymentpkg.NewService(repo, ledger, engine, registry, recorder, money.NewCodec(2), paymentpkg.ServiceConfig{
			Currency:    "GHS",
			CallbackURL: "https://school.test/payments/return",
			Retry:       paymentgateway.RetryPolicy{MaxAttempts: 1},
		}, lg)

		student = internal.Actor{UserID: 7, Role: internal.RoleStudent}
		admin = internal.Actor{UserID: 1, Role: internal.RoleAdmin}

		course = &enrollment.Course{Title: "Machine Learning", Price: 150000, Currency: "GHS"}
		Expect(db.Create(course).Error).To(Succeed())
		enr = &enrollment.Enrollment{UserID: 7, CourseID: course.ID, Status: enrollment.StatusPending}
		Expect(db.Create(enr).Error).To(Succeed())
	})

	initialize := func() *paymentpkg.InitializeResponse {
		resp, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
			Email:    "ama@example.com",
			Type:     string(payment.TypeTuition),
			Amount:   decimal.RequireFromString("1500.00"),
			CourseID: &course.ID,
		})
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	stored := func(ref string) *payment.Payment {
		var p payment.Payment
		Expect(db.Where("reference = ?", ref).First(&p).Error).To(Succeed())
		return &p
	}

	enrollmentStatus := func() enrollment.Status {
		var e enrollment.Enrollment
		Expect(db.First(&e, enr.ID).Error).To(Succeed())
		return e.Status
	}

	Describe("Initialize", func() {
		It("creates a pending payment in minor units before calling the gateway", func() {
			resp := initialize()

			Expect(resp.Reference).To(HavePrefix("TUI_"))
			Expect(resp.AuthorizationURL).To(Equal("https://checkout.test/" + resp.Reference))

			p := stored(resp.Reference)
			Expect(p.Status).To(Equal(payment.StatusPending))
			Expect(p.Amount).To(Equal(int64(150000)))
			Expect(p.Currency).To(Equal("GHS"))
			Expect(p.UserID).To(Equal(int64(7)))

			Expect(gateway.initialized).To(HaveLen(1))
			Expect(gateway.initialized[0].Amount).To(Equal(int64(150000)))
			Expect(gateway.initialized[0].CallbackURL).To(Equal("https://school.test/payments/return"))
		})

		It("returns GATEWAY_ERROR and leaves the payment pending when the gateway is down", func() {
			gateway.initErr = &paymentgateway.GatewayError{Gateway: "paystack", Op: "initialize", StatusCode: 503, Retryable: true, Err: errors.New("upstream exploded")}

			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:    "ama@example.com",
				Type:     string(payment.TypeTuition),
				Amount:   decimal.RequireFromString("1500"),
				CourseID: &course.ID,
			})

			Expect(errors.Is(err, internal.ErrGateway)).To(BeTrue())
			body, marshalErr := json.Marshal(err)
			Expect(marshalErr).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("exploded"))

			ref := gateway.initialized[0].Reference
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
		})

		It("rejects sub-minor precision", func() {
			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:    "ama@example.com",
				Type:     string(payment.TypeTuition),
				Amount:   decimal.RequireFromString("10.005"),
				CourseID: &course.ID,
			})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
			Expect(gateway.initialized).To(BeEmpty())
		})

		It("rejects tuition below the course price without touching the gateway", func() {
			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:    "ama@example.com",
				Type:     string(payment.TypeTuition),
				Amount:   decimal.RequireFromString("0.01"),
				CourseID: &course.ID,
			})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details, ok := appErr.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors[0].Field).To(Equal("amount"))
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeInvalidAmount)))
			Expect(gateway.initialized).To(BeEmpty())
			var n int64
			Expect(db.Model(&payment.Payment{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("rejects an application fee for a course that charges none", func() {
			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:    "ama@example.com",
				Type:     string(payment.TypeApplicationFee),
				Amount:   decimal.RequireFromString("1"),
				CourseID: &course.ID,
			})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
			Expect(gateway.initialized).To(BeEmpty())
		})

		It("requires the installment's own amount", func() {
			plan := &enrollment.InstallmentPlan{UserID: 7, CourseID: course.ID, TotalAmount: 150000, Currency: "GHS",
				InstallmentCount: 2, ActivationPolicy: enrollment.PolicyAllPaid}
			Expect(db.Create(plan).Error).To(Succeed())
			inst := &enrollment.Installment{PlanID: plan.ID, InstallmentNumber: 1, Amount: 75000,
				DueDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Status: enrollment.InstallmentPending}
			Expect(db.Create(inst).Error).To(Succeed())

			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:         "ama@example.com",
				Type:          string(payment.TypeInstallment),
				Amount:        decimal.RequireFromString("1500"),
				InstallmentID: &inst.ID,
			})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))

			resp, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:         "ama@example.com",
				Type:          string(payment.TypeInstallment),
				Amount:        decimal.RequireFromString("750"),
				InstallmentID: &inst.ID,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored(resp.Reference).Amount).To(Equal(int64(75000)))
		})

		It("requires an installment for installment payments", func() {
			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:  "ama@example.com",
				Type:   string(payment.TypeInstallment),
				Amount: decimal.RequireFromString("10"),
			})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("installment_id"))
		})

		It("does not let a student pay on behalf of someone else", func() {
			other := int64(99)

			_, err := service.Initialize(ctx, student, &paymentpkg.InitializePaymentDTO{
				Email:    "ama@example.com",
				Type:     string(payment.TypeTuition),
				Amount:   decimal.RequireFromString("10"),
				CourseID: &course.ID,
				UserID:   &other,
			})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeForbidden))
		})
	})

	Describe("Reconcile", func() {
		var ref string

		BeforeEach(func() {
			ref = initialize().Reference
		})

		It("completes and activates when the gateway confirms the same amount", func() {
			gateway.settle(150000, "GHS")

			res, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(res.Payment.Status).To(Equal(payment.StatusCompleted))
			Expect(enrollmentStatus()).To(Equal(enrollment.StatusActive))
		})

		It("does not call the gateway again for a completed payment", func() {
			gateway.settle(150000, "GHS")
			_, err := service.Reconcile(ctx, ref, webhookActor)
			Expect(err).NotTo(HaveOccurred())

			res, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeFalse())
			Expect(gateway.verifyCalls).To(Equal(1))
		})

		It("refuses a settlement for a different amount and leaves the payment pending", func() {
			gateway.settle(100, "GHS")

			_, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(errors.Is(err, internal.ErrAmountMismatch)).To(BeTrue())
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
			Expect(enrollmentStatus()).To(Equal(enrollment.StatusPending))

			var n int64
			Expect(db.Model(&auditmodel.Entry{}).Where("action = ?", audit.ActionPaymentAmountMismatch).Count(&n).Error).To(Succeed())
			Expect(n).To(Equal(int64(1)))
		})

		It("refuses a settlement in another currency", func() {
			gateway.settle(150000, "NGN")

			_, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(errors.Is(err, internal.ErrAmountMismatch)).To(BeTrue())
		})

		It("fails the payment when the gateway reports failure", func() {
			gateway.report(paymentgatewaytypes.VerificationFailed, "failed")

			res, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(stored(ref).Status).To(Equal(payment.StatusFailed))
		})

		It("changes nothing while the gateway is still pending", func() {
			res, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeFalse())
			Expect(res.GatewayStatus).To(Equal(paymentgatewaytypes.VerificationPending))
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
		})

		It("leaves the payment pending when verify times out", func() {
			gateway.verifyErr = &paymentgateway.GatewayError{Gateway: "paystack", Op: "verify", Retryable: true, Err: context.DeadlineExceeded}

			_, err := service.Reconcile(ctx, ref, webhookActor)

			Expect(errors.Is(err, internal.ErrGateway)).To(BeTrue())
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
		})

		It("fails loudly when a failed payment is reported paid", func() {
			gateway.report(paymentgatewaytypes.VerificationFailed, "failed")
			_, err := service.Reconcile(ctx, ref, webhookActor)
			Expect(err).NotTo(HaveOccurred())
			gateway.settle(150000, "GHS")

			_, err = service.Reconcile(ctx, ref, webhookActor)

			Expect(errors.Is(err, internal.ErrIllegalTransition)).To(BeTrue())
			Expect(stored(ref).Status).To(Equal(payment.StatusFailed))
		})
	})

	Describe("Expire", func() {
		var ref string

		BeforeEach(func() {
			ref = initialize().Reference
		})

		It("fails a payment the customer abandoned", func() {
			gateway.report(paymentgatewaytypes.VerificationPending, "abandoned")

			res, err := service.Expire(ctx, ref, "system:reconciler")

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(stored(ref).Status).To(Equal(payment.StatusFailed))
		})

		It("fails a payment the gateway has never seen", func() {
			gateway.verifyErr = &paymentgateway.GatewayError{Gateway: "paystack", Op: "verify", StatusCode: 404, NotFound: true, Err: errors.New("not found")}

			_, err := service.Expire(ctx, ref, "system:reconciler")

			Expect(err).NotTo(HaveOccurred())
			Expect(stored(ref).Status).To(Equal(payment.StatusFailed))
		})

		It("keeps a payment that is still being processed", func() {
			gateway.report(paymentgatewaytypes.VerificationPending, "processing")

			_, err := service.Expire(ctx, ref, "system:reconciler")

			Expect(err).NotTo(HaveOccurred())
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
		})

		It("completes a payment that turned out to be paid", func() {
			gateway.settle(150000, "GHS")

			_, err := service.Expire(ctx, ref, "system:reconciler")

			Expect(err).NotTo(HaveOccurred())
			Expect(stored(ref).Status).To(Equal(payment.StatusCompleted))
		})
	})

	Describe("admin and owner access", func() {
		var ref string

		BeforeEach(func() {
			ref = initialize().Reference
			gateway.settle(150000, "GHS")
		})

		It("lets an admin confirm through the same reconcile step", func() {
			p := stored(ref)

			res, err := service.Confirm(ctx, admin, p.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Payment.Status).To(Equal(payment.StatusCompleted))
			Expect(enrollmentStatus()).To(Equal(enrollment.StatusActive))
		})

		It("forbids students from confirming", func() {
			_, err := service.Confirm(ctx, student, stored(ref).ID)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeForbidden))
			Expect(stored(ref).Status).To(Equal(payment.StatusPending))
		})

		It("refunds a partial amount given in major units", func() {
			p := stored(ref)
			_, err := service.Confirm(ctx, admin, p.ID)
			Expect(err).NotTo(HaveOccurred())
			amount := decimal.RequireFromString("500.50")

			res, err := service.Refund(ctx, admin, p.ID, &paymentpkg.RefundDTO{Reason: "partial withdrawal", Amount: &amount})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Refund.Amount).To(Equal(int64(-50050)))
			Expect(strings.HasPrefix(res.Refund.Reference, "REFUND_")).To(BeTrue())
			Expect(enrollmentStatus()).To(Equal(enrollment.StatusSuspended))
		})

		It("requires a refund reason", func() {
			_, err := service.Refund(ctx, admin, stored(ref).ID, &paymentpkg.RefundDTO{})

			Expect(err).To(HaveOccurred())
		})

		It("hides another student's payment", func() {
			stranger := internal.Actor{UserID: 8, Role: internal.RoleStudent}

			_, err := service.Get(ctx, stranger, stored(ref).ID)

			Expect(errors.Is(err, internal.ErrPaymentNotFound)).To(BeTrue())
		})

		It("lets the student verify their own payment", func() {
			res, err := service.Verify(ctx, student, ref)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Payment.Status).To(Equal(payment.StatusCompleted))
		})

		It("lists the student's payments newest first", func() {
			second := initialize().Reference

			payments, err := service.ListByUser(ctx, student, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(payments).To(HaveLen(2))
			Expect(payments[0].Reference).To(Equal(second))
		})
	})
})
