package enrollment_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	enrollmentpkg "github.com/frahmantamala/enrollment-payments/internal/enrollment"
)

func installments(statuses ...enrollment.InstallmentStatus) []enrollment.Installment {
	out := make([]enrollment.Installment, len(statuses))
	for i, st := range statuses {
		out[i] = enrollment.Installment{InstallmentNumber: i + 1, Status: st}
	}
	return out
}

var _ = Describe("PolicySatisfied", func() {
	paid := enrollment.InstallmentPaid
	pending := enrollment.InstallmentPending
	overdue := enrollment.InstallmentOverdue

	Context("ALL_PAID", func() {
		plan := &enrollment.InstallmentPlan{ActivationPolicy: enrollment.PolicyAllPaid, InstallmentCount: 3}

		DescribeTable("needs every installment paid",
			func(rows []enrollment.Installment, expected bool) {
				Expect(enrollmentpkg.PolicySatisfied(plan, rows)).To(Equal(expected))
			},
			Entry("none paid", installments(pending, pending, pending), false),
			Entry("last missing", installments(paid, paid, pending), false),
			Entry("first missing", installments(pending, paid, paid), false),
			Entry("overdue counts as unpaid", installments(paid, overdue, paid), false),
			Entry("all paid", installments(paid, paid, paid), true),
			Entry("missing rows", installments(paid, paid), false),
		)
	})

	Context("UPFRONT", func() {
		plan := &enrollment.InstallmentPlan{ActivationPolicy: enrollment.PolicyUpfront, InstallmentCount: 3, UpfrontCount: 1}

		It("activates on the upfront installment alone", func() {
			Expect(enrollmentpkg.PolicySatisfied(plan, installments(paid, pending, pending))).To(BeTrue())
		})

		It("ignores later installments paid out of order", func() {
			Expect(enrollmentpkg.PolicySatisfied(plan, installments(pending, paid, paid))).To(BeFalse())
		})

		It("never holds without an explicit count", func() {
			bad := &enrollment.InstallmentPlan{ActivationPolicy: enrollment.PolicyUpfront, InstallmentCount: 3}
			Expect(enrollmentpkg.PolicySatisfied(bad, installments(paid, paid, paid))).To(BeFalse())
		})
	})

	It("is false for an empty schedule", func() {
		plan := &enrollment.InstallmentPlan{ActivationPolicy: enrollment.PolicyAllPaid}
		Expect(enrollmentpkg.PolicySatisfied(plan, nil)).To(BeFalse())
	})
})
