package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentUseCaseInterface define a interface para o use case
type PaymentUseCaseInterface interface {
	CreatePreference(ctx context.Context, buyerID string, cartItems []CheckoutItem, declaredTotal float64, buyer BuyerData) (*PreferenceResult, error)
	ProcessPayment(ctx context.Context, buyerID string, token, paymentMethodID, issuerID string, installments int, cartItems []CheckoutItem, declaredTotal float64, buyer BuyerData) (*PaymentResult, error)
	ProcessWebhook(ctx context.Context, notification WebhookNotification) error
	GetBuyerOrders(ctx context.Context, buyerID string) ([]Order, error)
	GetBuyerOrder(ctx context.Context, buyerID, orderID string) (*Order, error)
	CancelBuyerOrder(ctx context.Context, buyerID, orderID string) (*Order, error)
}

// CreatePreferenceRequest corpo do POST /api/payments/create-preference
type CreatePreferenceRequest struct {
	Items       []CheckoutItem `json:"items" binding:"required,dive"`
	TotalAmount float64        `json:"totalAmount" binding:"required,gt=0"`
	BuyerData   BuyerData      `json:"buyerData" binding:"required"`
}

// ProcessPaymentRequest corpo do POST /api/payments/process-payment
type ProcessPaymentRequest struct {
	Token           string         `json:"token" binding:"required"`
	PaymentMethodID string         `json:"paymentMethodId" binding:"required"`
	IssuerID        string         `json:"issuerId"`
	Installments    int            `json:"installments" binding:"required,gt=0"`
	Items           []CheckoutItem `json:"items" binding:"required,dive"`
	TotalAmount     float64        `json:"totalAmount" binding:"required,gt=0"`
	BuyerData       BuyerData      `json:"buyerData" binding:"required"`
}

// webhookBody payload mínimo da notificação; só fornece o id a re-buscar
type webhookBody struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// PaymentHandler contém os handlers HTTP
type PaymentHandler struct {
	useCase PaymentUseCaseInterface
	tracer  trace.Tracer
}

// NewPaymentHandler cria uma nova instância de PaymentHandler
func NewPaymentHandler(useCase PaymentUseCaseInterface, tracer trace.Tracer) *PaymentHandler {
	return &PaymentHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// CreatePreference inicia o fluxo hosted (Checkout Pro)
func (h *PaymentHandler) CreatePreference(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_preference")
	defer span.End()

	var req CreatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	buyerID := buyerIDFromContext(c)
	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.Int("cart_items", len(req.Items)),
		attribute.Float64("total_amount", req.TotalAmount),
	)

	result, err := h.useCase.CreatePreference(ctx, buyerID, req.Items, req.TotalAmount, req.BuyerData)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", result.OrderID),
		attribute.String("preference_id", result.PreferenceID),
	)

	c.JSON(http.StatusOK, result)
}

// ProcessPayment executa o fluxo direto (Checkout API, cartão tokenizado)
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "process_payment")
	defer span.End()

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	buyerID := buyerIDFromContext(c)
	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.Int("cart_items", len(req.Items)),
		attribute.Float64("total_amount", req.TotalAmount),
	)

	result, err := h.useCase.ProcessPayment(ctx, buyerID, req.Token, req.PaymentMethodID, req.IssuerID, req.Installments, req.Items, req.TotalAmount, req.BuyerData)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", result.OrderID),
		attribute.String("payment_status", result.Status),
	)

	c.JSON(http.StatusOK, result)
}

// Webhook recebe as notificações assíncronas do Mercado Pago.
// Responde 200 para tudo que já foi (ou não precisa ser) processado, para
// o provedor parar de reentregar; 401 só quando a assinatura reprova.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "mercadopago_webhook")
	defer span.End()

	var body webhookBody
	_ = c.ShouldBindJSON(&body)

	dataID := body.Data.ID
	if dataID == "" {
		// Mercado Pago também manda o id como query param
		dataID = c.Query("data.id")
	}
	if dataID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	notification := WebhookNotification{
		DataID:    dataID,
		RequestID: c.GetHeader("x-request-id"),
		Signature: c.GetHeader("x-signature"),
	}

	span.SetAttributes(
		attribute.String("data_id", notification.DataID),
		attribute.String("request_id", notification.RequestID),
	)

	err := h.useCase.ProcessWebhook(ctx, notification)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, ErrUnauthorized):
		span.RecordError(err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, ErrOrderNotFound):
		// pedido desconhecido: loga e confirma para parar a reentrega
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	default:
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process notification"})
	}
}

// GetOrders lista os pedidos do comprador autenticado
func (h *PaymentHandler) GetOrders(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_orders")
	defer span.End()

	buyerID := buyerIDFromContext(c)
	orders, err := h.useCase.GetBuyerOrders(ctx, buyerID)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// GetOrder busca um pedido do comprador autenticado
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order")
	defer span.End()

	buyerID := buyerIDFromContext(c)
	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := h.useCase.GetBuyerOrder(ctx, buyerID, orderID)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CancelOrder cancela um pedido pending do comprador autenticado
func (h *PaymentHandler) CancelOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "cancel_order")
	defer span.End()

	buyerID := buyerIDFromContext(c)
	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := h.useCase.CancelBuyerOrder(ctx, buyerID, orderID)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HealthCheck verifica a saúde do serviço
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "payments-service",
	})
}

// respondError mapeia a taxonomia de erros para respostas HTTP.
// O detalhe cru do gateway nunca chega ao comprador: vai traduzido.
func (h *PaymentHandler) respondError(c *gin.Context, err error) {
	var validationErr *ValidationError
	var amountErr *AmountMismatchError
	var stockErr *InsufficientStockError
	var gatewayErr *GatewayError

	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.As(err, &amountErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order amount"})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No hay stock suficiente para los artículos seleccionados",
			"variantId": stockErr.VariantID,
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.Is(err, ErrGatewayTimeout), errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": translateGatewayError(err)})
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
