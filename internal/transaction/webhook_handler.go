package transaction

import (
	"context"
	"io"
	"net/http"

	pgdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/consultation-booking/internal/transport"
	"github.com/frahmantamala/consultation-booking/pkg/logger"
)

const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, cb *pgdm.Callback) (WebhookOutcome, error)
}

type WebhookHandler struct {
	*transport.BaseHandler
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		processor:   processor,
	}
}

type WebhookResponse struct {
	Status string `json:"status"`
}

// HandlePaymentCallback acknowledges every delivery it can read. The gateway
// retries anything that is not a 2xx, so only a store failure returns 500.
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromOr(r.Context(), h.Logger)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read payment callback body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	cb, err := pgdm.ParseCallback(body)
	if err != nil {
		log.Warn("unparseable payment callback acknowledged", "error", err)
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: string(WebhookIgnored)})
		return
	}

	log.Info("received payment callback",
		"gateway_transaction_id", cb.ID.String(),
		"order_id", cb.Order.ID.String(),
		"success", cb.Success,
		"is_refund", cb.IsRefund,
		"amount_cents", cb.AmountCents)

	outcome, err := h.processor.HandleWebhook(r.Context(), cb)
	if err != nil {
		log.Error("failed to process payment callback", "error", err, "order_id", cb.Order.ID.String())
		h.WriteError(w, http.StatusInternalServerError, "failed to process payment callback")
		return
	}

	h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: string(outcome)})
}
