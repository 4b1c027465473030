package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized credencial ausente/ inválida ou assinatura de webhook reprovada
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOrderNotFound o external_reference do pagamento não resolve para um pedido
	ErrOrderNotFound = errors.New("order not found")

	// ErrGatewayTimeout o gateway não respondeu dentro do timeout, mesmo após retries.
	// O desfecho real do pagamento é desconhecido: o pedido fica pending e o
	// webhook continua sendo a autoridade.
	ErrGatewayTimeout = errors.New("request timeout")
)

// ValidationError carrinho malformado (variante inexistente, quantidade <= 0)
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AmountMismatchError o total declarado não bate com a soma recalculada
// a partir dos preços autoritativos do catálogo
type AmountMismatchError struct {
	Declared   float64
	Calculated float64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("invalid order amount: declared %.2f, calculated %.2f", e.Declared, e.Calculated)
}

// InsufficientStockError estoque insuficiente para uma variante do carrinho
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

// GatewayError resposta não-2xx do Mercado Pago com corpo de erro parseável.
// Terminal: nunca é retentada (repetir uma cobrança inválida sem chave de
// idempotência não é seguro).
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("Mercado Pago API error: %s", e.Message)
}

// gatewayErrorTranslations mapeia erros do gateway para mensagens em
// espanhol voltadas ao comprador. O detalhe cru do provedor fica só em
// log e no snapshot da transação.
var gatewayErrorTranslations = []struct {
	match   string
	message string
}{
	{"request timeout", "Tiempo de espera agotado. Por favor, intenta nuevamente."},
	{"invalid payment data", "Datos de pago inválidos."},
	{"payment rejected", "Pago rechazado. Verifica los datos de tu tarjeta."},
	{"insufficient funds", "Fondos insuficientes."},
	{"invalid card", "Tarjeta inválida."},
	{"Mercado Pago API error", "Error al procesar el pago. Por favor, intenta nuevamente."},
}

// translateGatewayError devolve a mensagem em espanhol para o comprador
func translateGatewayError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, t := range gatewayErrorTranslations {
		if strings.Contains(strings.ToLower(msg), strings.ToLower(t.match)) {
			return t.message
		}
	}
	return "Error al procesar el pago. Por favor, intenta nuevamente."
}
