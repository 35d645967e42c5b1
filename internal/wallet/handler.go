package wallet

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	walletdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/wallet"
	"github.com/frahmantamala/consultation-booking/internal/transport"
	"github.com/frahmantamala/consultation-booking/pkg/logger"
)

type ServiceAPI interface {
	GetWallet(ctx context.Context, userID int64) (*walletdm.Wallet, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     service,
	}
}

type BalanceResponse struct {
	UserID   int64           `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

func (h *Handler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	wallet, err := h.Service.GetWallet(r.Context(), userID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, BalanceResponse{
		UserID:   wallet.UserID,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	})
}
