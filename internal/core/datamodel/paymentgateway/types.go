package paymentgateway

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// ToCents converts a currency amount to integer minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type AuthRequest struct {
	APIKey string `json:"api_key"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

type OrderRequest struct {
	AuthToken       string        `json:"auth_token"`
	DeliveryNeeded  bool          `json:"delivery_needed"`
	AmountCents     int64         `json:"amount_cents"`
	Currency        string        `json:"currency"`
	MerchantOrderID string        `json:"merchant_order_id,omitempty"`
	Items           []interface{} `json:"items"`
}

type OrderResponse struct {
	ID int64 `json:"id"`
}

type BillingData struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Street      string `json:"street"`
	Building    string `json:"building"`
	Floor       string `json:"floor"`
	Apartment   string `json:"apartment"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

// NewBillingData fills the fields the gateway requires but the booking flow
// does not collect.
func NewBillingData(email, phone string) BillingData {
	const na = "NA"
	return BillingData{
		Email:       email,
		PhoneNumber: phone,
		FirstName:   na,
		LastName:    na,
		Street:      na,
		Building:    na,
		Floor:       na,
		Apartment:   na,
		City:        na,
		Country:     na,
	}
}

type PaymentKeyRequest struct {
	AuthToken     string      `json:"auth_token"`
	AmountCents   int64       `json:"amount_cents"`
	Expiration    int64       `json:"expiration"`
	OrderID       string      `json:"order_id"`
	BillingData   BillingData `json:"billing_data"`
	Currency      string      `json:"currency"`
	IntegrationID int64       `json:"integration_id"`
}

func (r *PaymentKeyRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order_id is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

type PaymentKeyResponse struct {
	Token string `json:"token"`
}

type RefundRequest struct {
	AuthToken     string `json:"auth_token"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
}

type CallbackOrder struct {
	ID              FlexibleID `json:"id"`
	MerchantOrderID string     `json:"merchant_order_id"`
}

// Callback is the transaction object the gateway posts to the webhook.
type Callback struct {
	ID                FlexibleID      `json:"id"`
	Success           bool            `json:"success"`
	Pending           bool            `json:"pending"`
	IsRefund          bool            `json:"is_refund"`
	AmountCents       int64           `json:"amount_cents"`
	Order             CallbackOrder   `json:"order"`
	ParentTransaction FlexibleID      `json:"parent_transaction"`
	SourceData        json.RawMessage `json:"source_data"`
}

// CallbackEnvelope is the outer body; some integrations post the bare object.
type CallbackEnvelope struct {
	Type string    `json:"type"`
	Obj  *Callback `json:"obj"`
}

// ParseCallback accepts both the enveloped and the bare callback body.
func ParseCallback(body []byte) (*Callback, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Obj != nil {
		return env.Obj, nil
	}
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// FlexibleID decodes an id the gateway sends either as a number or a string.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}
