package validation_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/core/common/validation"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validation Suite")
}

func fieldErrors(err *internal.AppError) []internal.ValidationError {
	details, ok := err.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue())
	return details.Errors
}

var _ = Describe("ValidateSessionWindow", func() {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	It("accepts a future window", func() {
		Expect(validation.ValidateSessionWindow(now.Add(time.Hour), now.Add(90*time.Minute), now)).To(BeNil())
	})

	It("rejects a start that is not in the future", func() {
		err := validation.ValidateSessionWindow(now, now.Add(time.Hour), now)
		Expect(err).NotTo(BeNil())
		errs := fieldErrors(err)
		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Field).To(Equal("start_time"))
		Expect(errs[0].Code).To(Equal(string(internal.ErrCodeInvalidDate)))
	})

	It("rejects an end at or before the start", func() {
		err := validation.ValidateSessionWindow(now.Add(time.Hour), now.Add(time.Hour), now)
		Expect(err).NotTo(BeNil())
		errs := fieldErrors(err)
		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Field).To(Equal("end_time"))
		Expect(errs[0].Code).To(Equal(string(internal.ErrCodeInvalidTimeRange)))
	})

	It("reports missing times as required", func() {
		err := validation.ValidateSessionWindow(time.Time{}, time.Time{}, now)
		Expect(err).NotTo(BeNil())
		Expect(fieldErrors(err)).To(HaveLen(2))
	})
})

var _ = Describe("ValidationBuilder", func() {
	It("collects every failing field", func() {
		v := validation.NewValidator()
		v.Field("client_email", "not-an-email").Email()
		v.Field("price", decimal.Zero).PositiveDecimal()
		v.Field("platform_fee", decimal.NewFromInt(-1)).NonNegativeDecimal()
		v.Field("reason", "ok").MaxLength(500)

		err := v.Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Code).To(Equal(internal.ErrCodeValidationFailed))

		var fields []string
		for _, e := range fieldErrors(err) {
			fields = append(fields, e.Field)
		}
		Expect(fields).To(Equal([]string{"client_email", "price", "platform_fee"}))
	})

	It("passes valid input", func() {
		v := validation.NewValidator()
		v.Field("client_email", "client@example.com").Required().Email()
		v.Field("provider_id", int64(20)).Required()
		Expect(v.Validate()).To(BeNil())
	})
})
