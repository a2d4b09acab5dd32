package money_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/enrollment-payments/internal/core/money"
)

var _ = Describe("Codec", func() {
	codec := money.NewCodec(2)

	DescribeTable("ToMinorUnits",
		func(major string, expected int64) {
			minor, err := codec.ToMinorUnits(decimal.RequireFromString(major))
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(expected))
		},
		Entry("whole units", "100", int64(10000)),
		Entry("two decimals", "120.50", int64(12050)),
		Entry("values that break float64", "0.29", int64(29)),
		Entry("negative refund amount", "-40.10", int64(-4010)),
		Entry("zero", "0", int64(0)),
	)

	It("rejects sub-minor precision", func() {
		_, err := codec.ToMinorUnits(decimal.RequireFromString("10.005"))
		Expect(err).To(MatchError(money.ErrFractionalMinorUnit))
	})

	It("rejects amounts beyond int64", func() {
		_, err := codec.ToMinorUnits(decimal.NewFromInt(math.MaxInt64))
		Expect(err).To(MatchError(money.ErrAmountOverflow))
	})

	It("round-trips minor units exactly", func() {
		for _, minor := range []int64{1, 29, 99, 10000, 12345678901, -4010} {
			back, err := codec.ToMinorUnits(codec.FromMinorUnits(minor))
			Expect(err).NotTo(HaveOccurred())
			Expect(back).To(Equal(minor))
		}
	})

	It("formats with the currency precision", func() {
		Expect(codec.Format(12050)).To(Equal("120.50"))
		Expect(codec.Format(-10000)).To(Equal("-100.00"))
		Expect(money.NewCodec(0).Format(500)).To(Equal("500"))
	})

	It("parses major-unit strings", func() {
		minor, err := codec.ParseMajor("30.00")
		Expect(err).NotTo(HaveOccurred())
		Expect(minor).To(Equal(int64(3000)))

		_, err = codec.ParseMajor("thirty")
		Expect(err).To(HaveOccurred())
	})
})
