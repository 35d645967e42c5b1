package transaction_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pgdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/consultation-booking/internal/transaction"
)

type stubProcessor struct {
	received *pgdm.Callback
	outcome  transaction.WebhookOutcome
	err      error
}

func (p *stubProcessor) HandleWebhook(_ context.Context, cb *pgdm.Callback) (transaction.WebhookOutcome, error) {
	p.received = cb
	return p.outcome, p.err
}

var _ = Describe("WebhookHandler", func() {
	var (
		processor *stubProcessor
		handler   *transaction.WebhookHandler
	)

	BeforeEach(func() {
		processor = &stubProcessor{outcome: transaction.WebhookProcessed}
		handler = transaction.NewWebhookHandler(processor)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/callback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandlePaymentCallback(rec, req)
		return rec
	}

	status := func(rec *httptest.ResponseRecorder) string {
		var resp transaction.WebhookResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return resp.Status
	}

	It("unwraps the enveloped callback and reports the outcome", func() {
		rec := post(`{"type":"TRANSACTION","obj":{"id":900,"success":true,"amount_cents":11000,"order":{"id":77}}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(status(rec)).To(Equal("processed"))
		Expect(processor.received.ID.String()).To(Equal("900"))
		Expect(processor.received.Order.ID.String()).To(Equal("77"))
		Expect(processor.received.AmountCents).To(Equal(int64(11000)))
	})

	It("accepts a bare callback object", func() {
		processor.outcome = transaction.WebhookIgnored
		rec := post(`{"id":"950","success":true,"is_refund":true,"parent_transaction":"900"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(status(rec)).To(Equal("ignored"))
		Expect(processor.received.IsRefund).To(BeTrue())
		Expect(processor.received.ParentTransaction.String()).To(Equal("900"))
	})

	It("acknowledges a body it cannot parse without processing it", func() {
		rec := post(`not json`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(status(rec)).To(Equal("ignored"))
		Expect(processor.received).To(BeNil())
	})

	It("asks the gateway to retry when processing fails", func() {
		processor.err = errors.New("database unavailable")
		rec := post(`{"id":900,"success":true,"order":{"id":77}}`)

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
