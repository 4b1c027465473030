package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateGatewayError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "timeout após retries",
			err:      fmt.Errorf("mercado pago request: %w", ErrGatewayTimeout),
			expected: "Tiempo de espera agotado. Por favor, intenta nuevamente.",
		},
		{
			name:     "fondos insuficientes",
			err:      &GatewayError{StatusCode: 400, Message: "Insufficient funds"},
			expected: "Fondos insuficientes.",
		},
		{
			name:     "tarjeta inválida",
			err:      &GatewayError{StatusCode: 400, Message: "Invalid card number"},
			expected: "Tarjeta inválida.",
		},
		{
			name:     "pago rechazado",
			err:      &GatewayError{StatusCode: 400, Message: "Payment rejected by issuer"},
			expected: "Pago rechazado. Verifica los datos de tu tarjeta.",
		},
		{
			name:     "erro genérico do gateway",
			err:      &GatewayError{StatusCode: 500, Message: "something unexpected"},
			expected: "Error al procesar el pago. Por favor, intenta nuevamente.",
		},
		{
			name:     "erro desconhecido cai no fallback",
			err:      fmt.Errorf("connection reset by peer"),
			expected: "Error al procesar el pago. Por favor, intenta nuevamente.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, translateGatewayError(tt.err))
		})
	}
}

func TestGatewayErrorMessage(t *testing.T) {
	err := &GatewayError{StatusCode: 400, Message: "Invalid credentials"}
	assert.Equal(t, "Mercado Pago API error: Invalid credentials", err.Error())
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := &InsufficientStockError{VariantID: "variant-1", Requested: 3, Available: 1}
	assert.Equal(t, "insufficient stock for variant variant-1: requested 3, available 1", err.Error())
}

func TestAmountMismatchErrorMessage(t *testing.T) {
	err := &AmountMismatchError{Declared: 9000, Calculated: 10000}
	assert.Equal(t, "invalid order amount: declared 9000.00, calculated 10000.00", err.Error())
}
