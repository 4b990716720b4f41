package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T, tokenCalls *atomic.Int32, stkHandler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3600",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", stkHandler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/api/v1/payments/callback",
		Timeout:        5 * time.Second,
	}
}

func TestClient_STKPush(t *testing.T) {
	t.Run("accepted push returns correlation ids", func(t *testing.T) {
		var tokenCalls atomic.Int32
		server := newGatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "174379", body["BusinessShortCode"])
			assert.Equal(t, "254712345678", body["PhoneNumber"])
			assert.Equal(t, "348", body["Amount"])

			json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID":   "29115-34620561-1",
				"CheckoutRequestID":   "ws_CO_191220191020363925",
				"ResponseCode":        "0",
				"ResponseDescription": "Success. Request accepted for processing",
				"CustomerMessage":     "Success. Request accepted for processing",
			})
		})

		client, err := NewClient(newTestConfig(server.URL))
		require.NoError(t, err)

		resp, err := client.STKPush(context.Background(), &STKPushRequest{
			PhoneNumber:      "254712345678",
			Amount:           348,
			AccountReference: "SALE-1",
			Description:      "POS sale",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
		assert.Equal(t, "29115-34620561-1", resp.MerchantRequestID)
	})

	t.Run("gateway rejection surfaces typed error", func(t *testing.T) {
		var tokenCalls atomic.Int32
		server := newGatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"errorCode":    "500.001.1001",
				"errorMessage": "Unable to lock subscriber, a transaction is already in process",
			})
		})

		client, err := NewClient(newTestConfig(server.URL))
		require.NoError(t, err)

		_, err = client.STKPush(context.Background(), &STKPushRequest{
			PhoneNumber: "254712345678",
			Amount:      100,
		})

		var gwErr *GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, "500.001.1001", gwErr.Code)
	})

	t.Run("token is cached across pushes", func(t *testing.T) {
		var tokenCalls atomic.Int32
		server := newGatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResponseCode":      "0",
			})
		})

		client, err := NewClient(newTestConfig(server.URL))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := client.STKPush(context.Background(), &STKPushRequest{
				PhoneNumber: "254712345678",
				Amount:      50,
			})
			require.NoError(t, err)
		}

		assert.Equal(t, int32(1), tokenCalls.Load())
	})

	t.Run("unreachable gateway", func(t *testing.T) {
		cfg := newTestConfig("http://127.0.0.1:1")
		cfg.Timeout = 500 * time.Millisecond

		client, err := NewClient(cfg)
		require.NoError(t, err)

		_, err = client.STKPush(context.Background(), &STKPushRequest{
			PhoneNumber: "254712345678",
			Amount:      50,
		})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})
}
