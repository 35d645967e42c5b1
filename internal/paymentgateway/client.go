package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal/core/common/tokencache"
	gatewaytypes "github.com/frahmantamala/consultation-booking/internal/core/datamodel/paymentgateway"
)

var ErrNotFound = errors.New("payment gateway: resource not found")

// StatusError carries an unexpected upstream status. The body is for logs.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment gateway %s returned status %d", e.Op, e.StatusCode)
}

type Config struct {
	BaseURL              string
	APIKey               string
	IntegrationID        int64
	IframeID             int64
	IframeBaseURL        string
	Currency             string
	TokenTTL             time.Duration
	PaymentKeyExpiration time.Duration
	Timeout              time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokencache.Cache
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 55 * time.Minute
	}
	if cfg.PaymentKeyExpiration <= 0 {
		cfg.PaymentKeyExpiration = time.Hour
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	c.tokens = tokencache.New(c.authenticate)
	return c
}

// CreateOrder opens a gateway order for amount and returns its id.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, merchantOrderID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	req := gatewaytypes.OrderRequest{
		AuthToken:       token,
		DeliveryNeeded:  false,
		AmountCents:     gatewaytypes.ToCents(amount),
		Currency:        c.cfg.Currency,
		MerchantOrderID: merchantOrderID,
		Items:           []interface{}{},
	}

	var resp gatewaytypes.OrderResponse
	if err := c.call(ctx, "create order", "/ecommerce/orders", req, &resp); err != nil {
		return "", err
	}

	orderID := fmt.Sprintf("%d", resp.ID)
	c.logger.Info("gateway order created",
		"order_id", orderID,
		"merchant_order_id", merchantOrderID,
		"amount_cents", req.AmountCents)
	return orderID, nil
}

// GeneratePaymentToken mints a short-lived token for the hosted checkout.
func (c *Client) GeneratePaymentToken(ctx context.Context, amount decimal.Decimal, orderID, email, phone string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	req := gatewaytypes.PaymentKeyRequest{
		AuthToken:     token,
		AmountCents:   gatewaytypes.ToCents(amount),
		Expiration:    int64(c.cfg.PaymentKeyExpiration.Seconds()),
		OrderID:       orderID,
		BillingData:   gatewaytypes.NewBillingData(email, phone),
		Currency:      c.cfg.Currency,
		IntegrationID: c.cfg.IntegrationID,
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}

	var resp gatewaytypes.PaymentKeyResponse
	if err := c.call(ctx, "payment key", "/acceptance/payment_keys", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("payment gateway returned an empty payment token")
	}

	c.logger.Info("payment token generated", "order_id", orderID)
	return resp.Token, nil
}

// Refund reverses a captured transaction. A 404 means the gateway already
// reversed it and is reported as success.
func (c *Client) Refund(ctx context.Context, gatewayTransactionID string, amount decimal.Decimal) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req := gatewaytypes.RefundRequest{
		AuthToken:     token,
		TransactionID: gatewayTransactionID,
		AmountCents:   gatewaytypes.ToCents(amount),
	}

	err = c.call(ctx, "refund", "/acceptance/void_refund/refund", req, nil)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("refund target not found, treating as already refunded",
			"transaction_id", gatewayTransactionID)
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("gateway refund requested",
		"transaction_id", gatewayTransactionID,
		"amount_cents", req.AmountCents)
	return nil
}

// PaymentURL builds the hosted checkout URL for a payment token.
func (c *Client) PaymentURL(paymentToken string) string {
	base := strings.TrimRight(c.cfg.IframeBaseURL, "/")
	return fmt.Sprintf("%s/%d?payment_token=%s", base, c.cfg.IframeID, url.QueryEscape(paymentToken))
}

func (c *Client) authenticate(ctx context.Context) (string, time.Duration, error) {
	var resp gatewaytypes.AuthResponse
	if err := c.postJSON(ctx, "auth", "/auth/tokens", gatewaytypes.AuthRequest{APIKey: c.cfg.APIKey}, &resp); err != nil {
		return "", 0, err
	}
	if resp.Token == "" {
		return "", 0, errors.New("payment gateway returned an empty auth token")
	}
	c.logger.Debug("payment gateway auth token refreshed")
	return resp.Token, c.cfg.TokenTTL, nil
}

// call performs an authenticated request and drops the cached token when the
// gateway rejects it, so the next call re-authenticates.
func (c *Client) call(ctx context.Context, op, path string, body, out interface{}) error {
	err := c.postJSON(ctx, op, path, body, out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return err
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payment gateway %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return c.statusError(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	c.logger.Error("payment gateway error",
		"op", op,
		"status_code", resp.StatusCode,
		"body", err.Body)
	return err
}
