package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 2
)

// PreferenceItem linha de uma preferência do Checkout Pro
type PreferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

// PreferencePhone telefone do pagador no formato do Mercado Pago
type PreferencePhone struct {
	AreaCode string `json:"area_code"`
	Number   string `json:"number"`
}

// PreferenceAddress endereço do pagador no formato do Mercado Pago
type PreferenceAddress struct {
	StreetName   string `json:"street_name"`
	StreetNumber string `json:"street_number"`
	ZipCode      string `json:"zip_code"`
}

// PreferencePayer dados do pagador enviados na preferência
type PreferencePayer struct {
	Name    string            `json:"name"`
	Email   string            `json:"email"`
	Phone   PreferencePhone   `json:"phone"`
	Address PreferenceAddress `json:"address"`
}

// BackURLs URLs de retorno pós-pagamento do Checkout Pro
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest corpo do POST /checkout/preferences
type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	Payer               PreferencePayer  `json:"payer"`
	BackURLs            BackURLs         `json:"back_urls"`
	AutoReturn          string           `json:"auto_return"`
	NotificationURL     string           `json:"notification_url"`
	StatementDescriptor string           `json:"statement_descriptor"`
	ExternalReference   string           `json:"external_reference"`
}

// PreferenceResponse resposta relevante do POST /checkout/preferences
type PreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// PaymentPayer pagador do Checkout API
type PaymentPayer struct {
	Email          string         `json:"email"`
	Identification Identification `json:"identification"`
}

// PaymentRequest corpo do POST /v1/payments
type PaymentRequest struct {
	Token               string       `json:"token"`
	TransactionAmount   float64      `json:"transaction_amount"`
	Installments        int          `json:"installments"`
	PaymentMethodID     string       `json:"payment_method_id"`
	IssuerID            string       `json:"issuer_id"`
	Payer               PaymentPayer `json:"payer"`
	Description         string       `json:"description"`
	ExternalReference   string       `json:"external_reference"`
	NotificationURL     string       `json:"notification_url"`
	StatementDescriptor string       `json:"statement_descriptor"`
}

// PaymentResponse resultado imediato do POST /v1/payments
type PaymentResponse struct {
	ID              json.Number `json:"id"`
	Status          string      `json:"status"`
	StatusDetail    string      `json:"status_detail"`
	PaymentMethodID string      `json:"payment_method_id"`
	PaymentTypeID   string      `json:"payment_type_id"`

	// Raw guarda o corpo cru da resposta para o snapshot da transação
	Raw []byte `json:"-"`
}

// PaymentDetails estado autoritativo de um pagamento (GET /v1/payments/{id})
type PaymentDetails struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	TransactionAmount float64     `json:"transaction_amount"`
	PaymentMethodID   string      `json:"payment_method_id"`
	PaymentTypeID     string      `json:"payment_type_id"`
	ExternalReference string      `json:"external_reference"`

	Raw []byte `json:"-"`
}

// mpErrorBody corpo de erro retornado pela API do Mercado Pago
type mpErrorBody struct {
	Message string `json:"message"`
}

// MercadoPagoClient fala com a API REST do Mercado Pago.
// Dono da política de timeout (30s por requisição) e de retry
// (backoff exponencial, só para falhas de transporte).
type MercadoPagoClient struct {
	http          *resty.Client
	webhookSecret string
	maxRetries    int
	backoff       func(attempt int) time.Duration
}

// NewMercadoPagoClient cria o cliente com as credenciais injetadas
func NewMercadoPagoClient(cfg MercadoPagoConfig) *MercadoPagoClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(defaultRequestTimeout).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json")

	return &MercadoPagoClient{
		http:          client,
		webhookSecret: cfg.WebhookSecret,
		maxRetries:    defaultMaxRetries,
		backoff:       exponentialBackoff,
	}
}

// exponentialBackoff delay entre tentativas: 2^attempt segundos (1s, 2s, ...)
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// CreatePreference cria uma preferência de pagamento para o Checkout Pro
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, pref PreferenceRequest) (*PreferenceResponse, error) {
	var out PreferenceResponse
	resp, err := c.executeWithRetry(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(pref).
			SetResult(&out).
			Post("/checkout/preferences")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, newGatewayError(resp)
	}
	return &out, nil
}

// CreatePayment processa um pagamento tokenizado via Checkout API
func (c *MercadoPagoClient) CreatePayment(ctx context.Context, payment PaymentRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	resp, err := c.executeWithRetry(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(payment).
			SetResult(&out).
			Post("/v1/payments")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, newGatewayError(resp)
	}
	out.Raw = resp.Body()
	return &out, nil
}

// GetPayment busca o estado autoritativo de um pagamento
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	var out PaymentDetails
	resp, err := c.executeWithRetry(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&out).
			Get("/v1/payments/" + paymentID)
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, newGatewayError(resp)
	}
	out.Raw = resp.Body()
	return &out, nil
}

// Formato do header x-signature: ts=<unix-ts>,v1=<hmac-hex>
var (
	signatureTSPattern   = regexp.MustCompile(`ts=(\d+)`)
	signatureHashPattern = regexp.MustCompile(`v1=([a-f0-9]+)`)
)

// ValidateWebhookSignature verifica a autenticidade de uma notificação.
// O manifest segue a documentação do Mercado Pago:
// id:<dataId>;request-id:<requestId>;ts:<ts>;
// Header malformado retorna false — nunca panica.
func (c *MercadoPagoClient) ValidateWebhookSignature(signature, requestID, dataID string) bool {
	parts := strings.Split(signature, ",")
	if len(parts) < 2 {
		return false
	}

	tsMatch := signatureTSPattern.FindStringSubmatch(parts[0])
	hashMatch := signatureHashPattern.FindStringSubmatch(parts[1])
	if tsMatch == nil || hashMatch == nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, tsMatch[1])

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(manifest))
	calculated := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(calculated), []byte(hashMatch[1])) == 1
}

// executeWithRetry executa a operação com retry e backoff exponencial.
// Loop com contador explícito, não recursão: o total de tentativas é
// 1 + maxRetries. Só falhas de transporte (timeout, erro de rede) são
// retentadas; resposta não-2xx volta imediatamente para o chamador.
func (c *MercadoPagoClient) executeWithRetry(ctx context.Context, op func() (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		resp, err := op()
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	if isTimeoutError(lastErr) {
		return nil, fmt.Errorf("mercado pago request: %w", ErrGatewayTimeout)
	}
	return nil, fmt.Errorf("mercado pago request: %w", lastErr)
}

// newGatewayError traduz uma resposta não-2xx num erro terminal
func newGatewayError(resp *resty.Response) error {
	var body mpErrorBody
	message := resp.Status()
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != "" {
		message = body.Message
	}
	return &GatewayError{
		StatusCode: resp.StatusCode(),
		Message:    message,
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
