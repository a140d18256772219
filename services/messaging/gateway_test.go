package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(baseURL string) Gateway {
	return &httpGateway{
		baseURL: baseURL,
		apiKey:  "secret",
		sender:  "628000",
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  zap.NewNop(),
	}
}

func TestGatewaySendSuccess(t *testing.T) {
	var received SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "pm_42"})
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).Send(context.Background(), SendRequest{
		To:   "628111",
		Body: "hello",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "pm_42", res.ProviderMessageID)
	// Empty From falls back to the configured sender number.
	require.Equal(t, "628000", received.From)
}

func TestGatewayProviderRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error_code": "invalid_number"})
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).Send(context.Background(), SendRequest{From: "628000", To: "x"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "invalid_number", res.ErrorCode)
}

func TestGatewayStatusCodeFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).Send(context.Background(), SendRequest{From: "628000", To: "628111"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "http_502", res.ErrorCode)
}
