package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HTTPClient is the signed REST implementation of Client. Requests carry
// an HMAC-SHA256 signature over timestamp+method+path+body, the scheme
// used by the major centralized exchanges.
type HTTPClient struct {
	baseURL    string
	key        string
	secret     string
	passphrase string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPClient(baseURL, key, secret, passphrase string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		key:        key,
		secret:     secret,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: 25 * time.Second},
		logger:     logger.With(zap.String("module", "exchange-client")),
	}
}

type apiEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) ListRecentDeposits(ctx context.Context, lookback time.Duration) ([]Deposit, error) {
	since := time.Now().Add(-lookback).UnixMilli()
	path := fmt.Sprintf("/api/v1/deposits?startAt=%d", since)

	var resp struct {
		Items []struct {
			ID       string  `json:"id"`
			Currency string  `json:"currency"`
			Amount   string  `json:"amount"`
			Address  string  `json:"address"`
			From     string  `json:"from"`
			CreateAt int64   `json:"createdAt"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}

	deposits := make([]Deposit, 0, len(resp.Items))
	for _, item := range resp.Items {
		amount, err := strconv.ParseFloat(item.Amount, 64)
		if err != nil {
			c.logger.Warn("Skipping deposit with unparseable amount",
				zap.String("deposit_id", item.ID), zap.String("amount", item.Amount))
			continue
		}
		deposits = append(deposits, Deposit{
			ID:       item.ID,
			Currency: item.Currency,
			Amount:   amount,
			Address:  item.Address,
			From:     item.From,
			Time:     time.UnixMilli(item.CreateAt),
		})
	}
	return deposits, nil
}

func (c *HTTPClient) GetConvertQuote(ctx context.Context, fromCurrency, toCurrency string, amount float64) (*Quote, error) {
	body := map[string]interface{}{
		"fromCurrency": fromCurrency,
		"toCurrency":   toCurrency,
		"fromSize":     strconv.FormatFloat(amount, 'f', -1, 64),
	}

	var resp struct {
		QuoteID string `json:"quoteId"`
		ToSize  string `json:"toSize"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/convert/quote", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to get convert quote: %w", err)
	}

	toAmount, err := strconv.ParseFloat(resp.ToSize, 64)
	if err != nil {
		return nil, fmt.Errorf("unparseable quote size %q: %w", resp.ToSize, err)
	}

	return &Quote{
		QuoteID:      resp.QuoteID,
		FromCurrency: fromCurrency,
		ToCurrency:   toCurrency,
		FromAmount:   amount,
		ToAmount:     toAmount,
	}, nil
}

func (c *HTTPClient) PlaceConvertOrder(ctx context.Context, quoteID string) (string, error) {
	body := map[string]interface{}{
		"quoteId": quoteID,
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/convert/order", body, &resp); err != nil {
		return "", fmt.Errorf("failed to place convert order: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("exchange returned empty order id for quote %s", quoteID)
	}
	return resp.OrderID, nil
}

func (c *HTTPClient) GetConvertOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	var resp struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
		ToSize  string `json:"toSize"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/convert/order/"+orderID, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	toAmount := 0.0
	if resp.ToSize != "" {
		parsed, err := strconv.ParseFloat(resp.ToSize, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable order size %q: %w", resp.ToSize, err)
		}
		toAmount = parsed
	}

	return &OrderResult{
		OrderID:  resp.OrderID,
		Status:   resp.Status,
		ToAmount: toAmount,
	}, nil
}

func (c *HTTPClient) InnerTransfer(ctx context.Context, currency string, amount float64, fromAccount, toAccount string) error {
	body := map[string]interface{}{
		"currency": currency,
		"amount":   strconv.FormatFloat(amount, 'f', -1, 64),
		"from":     fromAccount,
		"to":       toAccount,
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/accounts/inner-transfer", body, &resp); err != nil {
		return fmt.Errorf("failed inner transfer %s %s->%s: %w", currency, fromAccount, toAccount, err)
	}
	return nil
}

func (c *HTTPClient) Withdraw(ctx context.Context, currency string, amount float64, address, memo string) (string, error) {
	body := map[string]interface{}{
		"currency": currency,
		"amount":   strconv.FormatFloat(amount, 'f', -1, 64),
		"address":  address,
	}
	if memo != "" {
		body["memo"] = memo
	}

	var resp struct {
		WithdrawalID string `json:"withdrawalId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/withdrawals", body, &resp); err != nil {
		return "", fmt.Errorf("failed to withdraw %s: %w", currency, err)
	}
	return resp.WithdrawalID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("BX-API-KEY", c.key)
	req.Header.Set("BX-API-TIMESTAMP", timestamp)
	req.Header.Set("BX-API-PASSPHRASE", c.passphrase)
	req.Header.Set("BX-API-SIGN", c.sign(timestamp+method+path+string(payload)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange returned status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if envelope.Code != "" && envelope.Code != "200000" {
		return fmt.Errorf("exchange error %s: %s", envelope.Code, envelope.Message)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
