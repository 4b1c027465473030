package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// OrderStatus representa os possíveis status de um pedido.
// As transições só andam para frente: pending → paid | failed | cancelled.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Métodos de pagamento suportados
const (
	PaymentMethodCheckoutPro = "checkout_pro" // redirect para a página do Mercado Pago
	PaymentMethodCheckoutAPI = "checkout_api" // cartão tokenizado, server-to-server
)

// Status retornados pelo gateway
const (
	GatewayStatusApproved = "approved"
	GatewayStatusRejected = "rejected"
)

// amountEpsilon é a tolerância na comparação do total declarado (0.01 CLP)
const amountEpsilon = 0.01

// OrderItem é o snapshot de uma linha do carrinho. Preço e dados de
// exibição são congelados na criação do pedido e nunca mudam depois.
type OrderItem struct {
	VariantID string  `json:"variant_id" db:"variant_id"`
	Quantity  int     `json:"quantity" db:"quantity"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
	Name      string  `json:"name" db:"name"`
	Image     string  `json:"image" db:"image"`
}

// Identification documento do comprador (exigido pelo Checkout API)
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// Address endereço de entrega do comprador
type Address struct {
	Street  string `json:"street"`
	Number  string `json:"number"`
	ZipCode string `json:"zipCode"`
	City    string `json:"city"`
	State   string `json:"state"`
}

// BuyerData snapshot dos dados de contato e entrega do comprador
type BuyerData struct {
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	Identification Identification `json:"identification,omitempty"`
	Address        Address        `json:"address"`
}

// Order representa uma tentativa de checkout
type Order struct {
	ID            string      `json:"id" db:"id"`
	OrderNumber   string      `json:"order_number" db:"order_number"`
	BuyerID       string      `json:"buyer_id" db:"buyer_id"`
	Items         []OrderItem `json:"items"`
	TotalAmount   float64     `json:"total_amount" db:"total_amount"`
	Currency      string      `json:"currency" db:"currency"`
	Status        string      `json:"status" db:"status"`
	PaymentMethod string      `json:"payment_method" db:"payment_method"`
	PreferenceID  string      `json:"preference_id,omitempty" db:"preference_id"`
	PaymentID     string      `json:"payment_id,omitempty" db:"payment_id"`
	BuyerData     BuyerData   `json:"buyer_data"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	PaidAt        *time.Time  `json:"paid_at,omitempty" db:"paid_at"`
}

// NewOrder cria um novo pedido em status pending
func NewOrder(buyerID string, items []OrderItem, totalAmount float64, paymentMethod string, buyer BuyerData) *Order {
	return &Order{
		ID:            uuid.New().String(),
		OrderNumber:   generateOrderNumber(),
		BuyerID:       buyerID,
		Items:         items,
		TotalAmount:   totalAmount,
		Currency:      "CLP",
		Status:        OrderStatusPending,
		PaymentMethod: paymentMethod,
		BuyerData:     buyer,
		CreatedAt:     time.Now(),
	}
}

// MarkPaid transiciona o pedido para paid. Só pedidos pending podem ser pagos.
func (o *Order) MarkPaid(at time.Time) error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be marked as paid")
	}
	o.Status = OrderStatusPaid
	o.PaidAt = &at
	return nil
}

// MarkFailed transiciona o pedido para failed
func (o *Order) MarkFailed() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be marked as failed")
	}
	o.Status = OrderStatusFailed
	return nil
}

// Cancel transiciona o pedido para cancelled
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be cancelled")
	}
	o.Status = OrderStatusCancelled
	return nil
}

// IsTerminal indica se o pedido já chegou num estado final
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusFailed || o.Status == OrderStatusCancelled
}

// Variant é a unidade vendável do catálogo, com preço e estoque
// autoritativos lidos do banco — nunca do cliente.
type Variant struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"product_name"`
	ColorName string  `json:"color_name" db:"color_name"`
	Storage   string  `json:"storage" db:"storage"`
	Image     string  `json:"image" db:"image"`
	Price     float64 `json:"price" db:"price"`
	Stock     int     `json:"stock" db:"stock"`
}

// PaymentTransaction registra uma tentativa de pagamento no gateway.
// Append-only: nunca é atualizada nem removida (trilha para disputas).
type PaymentTransaction struct {
	ID              string    `json:"id" db:"id"`
	OrderID         string    `json:"order_id" db:"order_id"`
	PaymentID       string    `json:"payment_id" db:"payment_id"`
	Status          string    `json:"status" db:"status"`
	StatusDetail    string    `json:"status_detail" db:"status_detail"`
	Amount          float64   `json:"amount" db:"amount"`
	PaymentMethodID string    `json:"payment_method_id" db:"payment_method_id"`
	PaymentTypeID   string    `json:"payment_type_id" db:"payment_type_id"`
	ResponseData    []byte    `json:"response_data" db:"response_data"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// generateOrderNumber gera um número legível no formato ORD-YYYYMMDD-XXXXX
func generateOrderNumber() string {
	datePart := time.Now().UTC().Format("20060102")
	randomPart := rand.Intn(100000)
	return fmt.Sprintf("ORD-%s-%05d", datePart, randomPart)
}

// validateOrderAmount confere se o total declarado bate com a soma das linhas
func validateOrderAmount(items []OrderItem, totalAmount float64) bool {
	var calculated float64
	for _, item := range items {
		calculated += float64(item.Quantity) * item.UnitPrice
	}
	return math.Abs(calculated-totalAmount) < amountEpsilon
}
