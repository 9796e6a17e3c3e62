package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestsAreSigned(t *testing.T) {
	secret := "test-secret"
	var captured *http.Request
	var capturedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		capturedBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"code":"200000","data":{"orderId":"ord-1"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "test-key", secret, "test-pass", zap.NewNop())
	_, err := client.PlaceConvertOrder(context.Background(), "q-1")
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "test-key", captured.Header.Get("BX-API-KEY"))
	assert.Equal(t, "test-pass", captured.Header.Get("BX-API-PASSPHRASE"))

	timestamp := captured.Header.Get("BX-API-TIMESTAMP")
	require.NotEmpty(t, timestamp)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + http.MethodPost + "/api/v1/convert/order" + string(capturedBody)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, captured.Header.Get("BX-API-SIGN"))
}

func TestEnvelopeErrorCodeIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"400100","msg":"insufficient balance"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "s", "p", zap.NewNop())
	err := client.InnerTransfer(context.Background(), "BTC", 1.0, AccountMain, AccountTrade)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400100")
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestNonOKStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "s", "p", zap.NewNop())
	_, err := client.GetConvertOrderStatus(context.Background(), "ord-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestListRecentDepositsParsesAmounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"200000","data":{"items":[
			{"id":"dep-1","currency":"BTC","amount":"0.5","address":"addr-1","createdAt":1700000000000},
			{"id":"dep-2","currency":"BTC","amount":"not-a-number","address":"addr-2","createdAt":1700000000000}
		]}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "s", "p", zap.NewNop())
	deposits, err := client.ListRecentDeposits(context.Background(), 5*time.Minute)
	require.NoError(t, err)

	// The unparseable deposit is skipped, not fatal.
	require.Len(t, deposits, 1)
	assert.Equal(t, "dep-1", deposits[0].ID)
	assert.Equal(t, 0.5, deposits[0].Amount)
}

func TestGetConvertQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"200000","data":{"quoteId":"q-9","toSize":"15.25"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", "s", "p", zap.NewNop())
	quote, err := client.GetConvertQuote(context.Background(), "BTC", "ETH", 1.0)
	require.NoError(t, err)

	assert.Equal(t, "q-9", quote.QuoteID)
	assert.Equal(t, 15.25, quote.ToAmount)
	assert.Equal(t, 1.0, quote.FromAmount)
}
