package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestGatewayClient cria um cliente apontado para o servidor fake,
// sem backoff entre tentativas para o teste não esperar de verdade
func newTestGatewayClient(baseURL string) *MercadoPagoClient {
	client := NewMercadoPagoClient(MercadoPagoConfig{
		AccessToken:   "TEST-ACCESS-TOKEN",
		WebhookSecret: "test-webhook-secret",
		BaseURL:       baseURL,
	})
	client.backoff = func(int) time.Duration { return 0 }
	return client
}

func TestGatewayCreatePreference_Success(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-ACCESS-TOKEN", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pref-123","init_point":"https://www.mercadopago.cl/init/pref-123"}`)
	}))
	defer server.Close()

	client := newTestGatewayClient(server.URL)

	// Act
	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference: "order-1",
	})

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "pref-123", pref.ID)
	assert.Equal(t, "https://www.mercadopago.cl/init/pref-123", pref.InitPoint)
}

func TestCreatePayment_GatewayRejection_NotRetried(t *testing.T) {
	// Arrange: resposta não-2xx é terminal, nunca retentada
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Invalid card number"}`)
	}))
	defer server.Close()

	client := newTestGatewayClient(server.URL)

	// Act
	payment, err := client.CreatePayment(context.Background(), PaymentRequest{Token: "tok-1"})

	// Assert
	assert.Nil(t, payment)
	var gatewayErr *GatewayError
	assert.True(t, errors.As(err, &gatewayErr))
	assert.Equal(t, http.StatusBadRequest, gatewayErr.StatusCode)
	assert.Equal(t, "Invalid card number", gatewayErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreatePayment_TimeoutRetriedThenGivesUp(t *testing.T) {
	// Arrange: o servidor nunca responde dentro do timeout; o cliente deve
	// tentar 1 + maxRetries vezes e devolver ErrGatewayTimeout
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestGatewayClient(server.URL)
	client.http.SetTimeout(50 * time.Millisecond)

	// Act
	payment, err := client.CreatePayment(context.Background(), PaymentRequest{Token: "tok-1"})

	// Assert
	assert.Nil(t, payment)
	assert.True(t, errors.Is(err, ErrGatewayTimeout))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestCreatePayment_RetrySucceedsAfterTransportFailure(t *testing.T) {
	// Arrange: primeira tentativa estoura o timeout, a segunda responde
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":123456,"status":"approved","status_detail":"accredited","payment_method_id":"visa","payment_type_id":"credit_card"}`)
	}))
	defer server.Close()

	client := newTestGatewayClient(server.URL)
	client.http.SetTimeout(50 * time.Millisecond)

	// Act
	payment, err := client.CreatePayment(context.Background(), PaymentRequest{Token: "tok-1"})

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "123456", payment.ID.String())
	assert.Equal(t, GatewayStatusApproved, payment.Status)
	assert.Equal(t, "accredited", payment.StatusDetail)
	assert.NotEmpty(t, payment.Raw)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestGetPayment_Success(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":123456,"status":"approved","status_detail":"accredited","transaction_amount":10000,"external_reference":"order-1"}`)
	}))
	defer server.Close()

	client := newTestGatewayClient(server.URL)

	// Act
	details, err := client.GetPayment(context.Background(), "123456")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "123456", details.ID.String())
	assert.Equal(t, GatewayStatusApproved, details.Status)
	assert.Equal(t, 10000.0, details.TransactionAmount)
	assert.Equal(t, "order-1", details.ExternalReference)
	assert.NotEmpty(t, details.Raw)
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Second, exponentialBackoff(0))
	assert.Equal(t, 2*time.Second, exponentialBackoff(1))
	assert.Equal(t, 4*time.Second, exponentialBackoff(2))
}

// signWebhook calcula a assinatura válida para o manifest do Mercado Pago
func signWebhook(secret, dataID, requestID, ts string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidateWebhookSignature(t *testing.T) {
	secret := "test-webhook-secret"
	client := newTestGatewayClient("http://localhost")
	dataID := "123456"
	requestID := "req-abc"
	ts := "1712345678"
	validHash := signWebhook(secret, dataID, requestID, ts)

	tests := []struct {
		name      string
		signature string
		expected  bool
	}{
		{
			name:      "assinatura válida",
			signature: fmt.Sprintf("ts=%s,v1=%s", ts, validHash),
			expected:  true,
		},
		{
			name:      "hash adulterado",
			signature: fmt.Sprintf("ts=%s,v1=%s", ts, signWebhook(secret, "999999", requestID, ts)),
			expected:  false,
		},
		{
			name:      "ts adulterado invalida o manifest",
			signature: fmt.Sprintf("ts=9999999999,v1=%s", validHash),
			expected:  false,
		},
		{
			name:      "sem componente v1",
			signature: fmt.Sprintf("ts=%s", ts),
			expected:  false,
		},
		{
			name:      "sem componente ts",
			signature: fmt.Sprintf("v1=%s", validHash),
			expected:  false,
		},
		{
			name:      "componentes fora de ordem",
			signature: fmt.Sprintf("v1=%s,ts=%s", validHash, ts),
			expected:  false,
		},
		{
			name:      "header vazio",
			signature: "",
			expected:  false,
		},
		{
			name:      "lixo arbitrário",
			signature: "not-a-signature-at-all",
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, client.ValidateWebhookSignature(tt.signature, requestID, dataID))
		})
	}
}
