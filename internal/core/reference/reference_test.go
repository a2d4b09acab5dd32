package reference_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/enrollment-payments/internal/core/reference"
)

var _ = Describe("Reference", func() {
	It("carries the prefix, a timestamp and a random suffix", func() {
		ref := reference.New("pay")
		Expect(ref).To(MatchRegexp(`^PAY_\d{13}_[0-9A-F]{12}$`))
	})

	It("defaults the prefix", func() {
		Expect(reference.New("")).To(HavePrefix("PAY_"))
	})

	It("does not repeat across many calls", func() {
		seen := make(map[string]struct{}, 10000)
		for i := 0; i < 10000; i++ {
			ref := reference.New("PAY")
			Expect(seen).NotTo(HaveKey(ref))
			seen[ref] = struct{}{}
		}
	})

	It("names refunds after the original", func() {
		ref := reference.Refund("PAY_1_ABC")
		Expect(ref).To(Equal("REFUND_PAY_1_ABC"))
		Expect(reference.IsRefund(ref)).To(BeTrue())
		Expect(reference.IsRefund("PAY_1_ABC")).To(BeFalse())
	})
})
