package wallet_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	walletdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/wallet"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
)

type stubWallets struct {
	wallet *walletdm.Wallet
	err    error
}

func (s stubWallets) GetWallet(context.Context, int64) (*walletdm.Wallet, error) {
	return s.wallet, s.err
}

var _ = Describe("Handler", func() {
	get := func(svc wallet.ServiceAPI, userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
		if userID != 0 {
			req = req.WithContext(internal.ContextWithUserID(req.Context(), userID))
		}
		rec := httptest.NewRecorder()
		wallet.NewHandler(svc).GetMyWallet(rec, req)
		return rec
	}

	It("returns the caller's balance", func() {
		rec := get(stubWallets{wallet: &walletdm.Wallet{UserID: 10, Balance: decimal.RequireFromString("390.00"), Currency: "EGP"}}, 10)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body wallet.BalanceResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.UserID).To(Equal(int64(10)))
		Expect(body.Balance.Equal(decimal.NewFromInt(390))).To(BeTrue())
		Expect(body.Currency).To(Equal("EGP"))
	})

	It("answers 404 when the caller has no wallet", func() {
		rec := get(stubWallets{err: internal.ErrWalletNotFound}, 10)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("answers 401 without a caller", func() {
		rec := get(stubWallets{}, 0)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
