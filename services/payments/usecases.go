package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tiendita-jireh/payments-service/services/common/logger"
)

// PaymentGateway abstrai o cliente do Mercado Pago para os use cases
// (e para os test doubles)
type PaymentGateway interface {
	CreatePreference(ctx context.Context, pref PreferenceRequest) (*PreferenceResponse, error)
	CreatePayment(ctx context.Context, payment PaymentRequest) (*PaymentResponse, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error)
	ValidateWebhookSignature(signature, requestID, dataID string) bool
}

// CheckoutItem linha do carrinho enviada pelo cliente. O preço declarado é
// só um snapshot de exibição: o valor cobrado vem sempre do catálogo.
type CheckoutItem struct {
	VariantID string  `json:"variantId" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Price     float64 `json:"price"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
}

// PreferenceResult resposta do fluxo Checkout Pro
type PreferenceResult struct {
	OrderID      string `json:"orderId"`
	PreferenceID string `json:"preferenceId"`
	InitPoint    string `json:"initPoint"`
}

// PaymentResult resposta do fluxo Checkout API
type PaymentResult struct {
	OrderID      string `json:"orderId"`
	PaymentID    string `json:"paymentId"`
	Status       string `json:"status"`
	StatusDetail string `json:"statusDetail"`
}

// WebhookNotification dados extraídos de uma notificação do gateway.
// O payload nunca é fonte de verdade — só aponta qual pagamento re-buscar.
type WebhookNotification struct {
	DataID    string
	RequestID string
	Signature string
}

// PaymentUseCase contém a lógica de negócio de pedidos e pagamentos
type PaymentUseCase struct {
	repository OrderRepository
	gateway    PaymentGateway
	cfg        *Config

	paymentApprovedCounter metric.Int64Counter
	paymentRejectedCounter metric.Int64Counter
	webhookCounter         metric.Int64Counter
}

// NewPaymentUseCase cria uma nova instância de PaymentUseCase
func NewPaymentUseCase(repository OrderRepository, gateway PaymentGateway, cfg *Config, meter metric.Meter) *PaymentUseCase {
	uc := &PaymentUseCase{
		repository: repository,
		gateway:    gateway,
		cfg:        cfg,
	}

	if meter != nil {
		uc.paymentApprovedCounter, _ = meter.Int64Counter("payments.approved")
		uc.paymentRejectedCounter, _ = meter.Int64Counter("payments.rejected")
		uc.webhookCounter, _ = meter.Int64Counter("payments.webhook.notifications")
	}

	return uc
}

// CreateOrder valida o carrinho contra o catálogo e persiste um pedido
// pending. O estoque é verificado mas NÃO decrementado aqui: o decremento
// acontece na primeira transição para paid, para não prender estoque em
// carrinhos abandonados.
func (uc *PaymentUseCase) CreateOrder(ctx context.Context, buyerID string, cartItems []CheckoutItem, declaredTotal float64, buyer BuyerData, paymentMethod string) (*Order, error) {
	if len(cartItems) == 0 {
		return nil, &ValidationError{Message: "cart is empty"}
	}

	variantIDs := make([]string, 0, len(cartItems))
	for _, line := range cartItems {
		if line.Quantity <= 0 {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid quantity for variant %s", line.VariantID)}
		}
		variantIDs = append(variantIDs, line.VariantID)
	}

	variants, err := uc.repository.GetVariantsForSale(ctx, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch variants: %w", err)
	}

	// Recalcula o total com os preços autoritativos do catálogo e confere
	// o estoque de TODAS as linhas antes de falhar, para reportar o item
	// realmente insuficiente
	items := make([]OrderItem, 0, len(cartItems))
	var calculated float64
	var insufficient *InsufficientStockError

	for _, line := range cartItems {
		variant, ok := variants[line.VariantID]
		if !ok {
			return nil, &ValidationError{Message: fmt.Sprintf("variant not found: %s", line.VariantID)}
		}

		name := variant.Name
		if name == "" {
			name = line.Name
		}
		image := variant.Image
		if image == "" {
			image = line.Image
		}

		items = append(items, OrderItem{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: variant.Price,
			Name:      name,
			Image:     image,
		})
		calculated += float64(line.Quantity) * variant.Price

		if variant.Stock < line.Quantity && insufficient == nil {
			insufficient = &InsufficientStockError{
				VariantID: line.VariantID,
				Requested: line.Quantity,
				Available: variant.Stock,
			}
		}
	}

	if !validateOrderAmount(items, declaredTotal) {
		return nil, &AmountMismatchError{Declared: declaredTotal, Calculated: calculated}
	}

	if insufficient != nil {
		return nil, insufficient
	}

	order := NewOrder(buyerID, items, declaredTotal, paymentMethod, buyer)
	if err := uc.repository.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	logger.Log.Info("✅ Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", paymentMethod),
		zap.Float64("total_amount", order.TotalAmount),
	)

	return order, nil
}

// CreatePreference executa o fluxo hosted: cria o pedido pending e a
// preferência do Checkout Pro, e devolve a URL de redirect. O status
// final do pedido é responsabilidade do webhook.
func (uc *PaymentUseCase) CreatePreference(ctx context.Context, buyerID string, cartItems []CheckoutItem, declaredTotal float64, buyer BuyerData) (*PreferenceResult, error) {
	order, err := uc.CreateOrder(ctx, buyerID, cartItems, declaredTotal, buyer, PaymentMethodCheckoutPro)
	if err != nil {
		return nil, err
	}

	prefItems := make([]PreferenceItem, 0, len(order.Items))
	for _, item := range order.Items {
		prefItems = append(prefItems, PreferenceItem{
			ID:         item.VariantID,
			Title:      item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			CurrencyID: order.Currency,
		})
	}

	pref := PreferenceRequest{
		Items: prefItems,
		Payer: PreferencePayer{
			Name:  buyer.Name,
			Email: buyer.Email,
			Phone: PreferencePhone{Number: buyer.Phone},
			Address: PreferenceAddress{
				StreetName:   buyer.Address.Street,
				StreetNumber: buyer.Address.Number,
				ZipCode:      buyer.Address.ZipCode,
			},
		},
		BackURLs: BackURLs{
			Success: fmt.Sprintf("%s/checkout/%s/thank-you", uc.cfg.FrontendURL, order.ID),
			Failure: uc.cfg.FrontendURL + "/checkout/failure",
			Pending: uc.cfg.FrontendURL + "/checkout/pending",
		},
		AutoReturn:          "approved",
		NotificationURL:     uc.cfg.PublicBaseURL + "/api/payments/webhook",
		StatementDescriptor: "Tiendita Jireh",
		ExternalReference:   order.ID,
	}

	preference, err := uc.gateway.CreatePreference(ctx, pref)
	if err != nil {
		// O pedido já persistiu e fica pending: o comprador pode tentar
		// de novo sem perder o registro
		logger.Log.Error("❌ Failed to create preference",
			zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	if err := uc.repository.SetOrderPreference(ctx, order.ID, preference.ID); err != nil {
		return nil, fmt.Errorf("failed to store preference id: %w", err)
	}

	logger.Log.Info("✅ Preference created",
		zap.String("order_id", order.ID),
		zap.String("preference_id", preference.ID),
	)

	return &PreferenceResult{
		OrderID:      order.ID,
		PreferenceID: preference.ID,
		InitPoint:    preference.InitPoint,
	}, nil
}

// ProcessPayment executa o fluxo direto: cria o pedido pending, cobra o
// token no gateway e mapeia o status imediato da resposta para o pedido
// (approved→paid, rejected→failed, resto fica pending).
func (uc *PaymentUseCase) ProcessPayment(ctx context.Context, buyerID string, token, paymentMethodID, issuerID string, installments int, cartItems []CheckoutItem, declaredTotal float64, buyer BuyerData) (*PaymentResult, error) {
	order, err := uc.CreateOrder(ctx, buyerID, cartItems, declaredTotal, buyer, PaymentMethodCheckoutAPI)
	if err != nil {
		return nil, err
	}

	payment, err := uc.gateway.CreatePayment(ctx, PaymentRequest{
		Token:             token,
		TransactionAmount: order.TotalAmount,
		Installments:      installments,
		PaymentMethodID:   paymentMethodID,
		IssuerID:          issuerID,
		Payer: PaymentPayer{
			Email:          buyer.Email,
			Identification: buyer.Identification,
		},
		Description:         "Orden " + order.OrderNumber,
		ExternalReference:   order.ID,
		NotificationURL:     uc.cfg.PublicBaseURL + "/api/payments/webhook",
		StatementDescriptor: "Tiendita Jireh",
	})
	if err != nil {
		// Timeout: desfecho desconhecido, o pedido fica pending e o webhook
		// decide. Rejeição HTTP: terminal, mas o pedido persiste no último
		// estado conhecido — nada se perde em silêncio.
		logger.Log.Error("❌ Payment failed",
			zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	txn := &PaymentTransaction{
		OrderID:         order.ID,
		PaymentID:       payment.ID.String(),
		Status:          payment.Status,
		StatusDetail:    payment.StatusDetail,
		Amount:          order.TotalAmount,
		PaymentMethodID: payment.PaymentMethodID,
		PaymentTypeID:   payment.PaymentTypeID,
		ResponseData:    payment.Raw,
	}
	if err := uc.repository.RecordPaymentTransaction(ctx, txn); err != nil {
		// A cobrança já aconteceu; não falha o fluxo por causa da trilha
		logger.Log.Error("failed to record payment transaction",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	switch payment.Status {
	case GatewayStatusApproved:
		if err := uc.markOrderPaid(ctx, order, time.Now()); err != nil {
			return nil, err
		}
		uc.inc(ctx, uc.paymentApprovedCounter)
		logger.Log.Info("✅ Payment approved",
			zap.String("order_id", order.ID),
			zap.String("payment_id", payment.ID.String()),
		)
	case GatewayStatusRejected:
		if err := uc.markOrderFailed(ctx, order); err != nil {
			return nil, err
		}
		logger.Log.Info("❌ Payment rejected",
			zap.String("order_id", order.ID),
			zap.String("status_detail", payment.StatusDetail),
		)
	default:
		// in_process, pending etc.: o pedido segue pending até o webhook
		logger.Log.Info("⏳ Payment pending",
			zap.String("order_id", order.ID),
			zap.String("status", payment.Status),
		)
	}

	return &PaymentResult{
		OrderID:      order.ID,
		PaymentID:    payment.ID.String(),
		Status:       payment.Status,
		StatusDetail: payment.StatusDetail,
	}, nil
}

// ProcessWebhook reconcilia uma notificação assíncrona do gateway.
// Idempotente por construção: entregas repetidas convergem para o mesmo
// estado final sem efeito colateral duplicado.
func (uc *PaymentUseCase) ProcessWebhook(ctx context.Context, notification WebhookNotification) error {
	uc.inc(ctx, uc.webhookCounter)

	if !uc.gateway.ValidateWebhookSignature(notification.Signature, notification.RequestID, notification.DataID) {
		logger.Log.Warn("webhook signature validation failed",
			zap.String("request_id", notification.RequestID),
			zap.String("data_id", notification.DataID),
		)
		return ErrUnauthorized
	}

	// O status do payload é só uma dica: o estado autoritativo vem do gateway
	details, err := uc.gateway.GetPayment(ctx, notification.DataID)
	if err != nil {
		return fmt.Errorf("failed to fetch payment %s: %w", notification.DataID, err)
	}

	order, err := uc.repository.GetOrderByID(ctx, details.ExternalReference)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			logger.Log.Warn("webhook references unknown order",
				zap.String("payment_id", details.ID.String()),
				zap.String("external_reference", details.ExternalReference),
			)
		}
		return err
	}

	exists, err := uc.repository.HasPaymentTransaction(ctx, order.ID, details.ID.String())
	if err != nil {
		return fmt.Errorf("failed to check payment transaction: %w", err)
	}
	if !exists {
		txn := &PaymentTransaction{
			OrderID:         order.ID,
			PaymentID:       details.ID.String(),
			Status:          details.Status,
			StatusDetail:    details.StatusDetail,
			Amount:          details.TransactionAmount,
			PaymentMethodID: details.PaymentMethodID,
			PaymentTypeID:   details.PaymentTypeID,
			ResponseData:    details.Raw,
		}
		if err := uc.repository.RecordPaymentTransaction(ctx, txn); err != nil {
			logger.Log.Error("failed to record payment transaction",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	switch details.Status {
	case GatewayStatusApproved:
		if err := uc.markOrderPaid(ctx, order, time.Now()); err != nil {
			return err
		}
		uc.inc(ctx, uc.paymentApprovedCounter)
	case GatewayStatusRejected:
		if err := uc.markOrderFailed(ctx, order); err != nil {
			return err
		}
	default:
		// pendente no gateway: nada a aplicar ainda
	}

	logger.Log.Info("✅ Webhook processed",
		zap.String("order_id", order.ID),
		zap.String("payment_id", details.ID.String()),
		zap.String("status", details.Status),
	)

	return nil
}

// markOrderPaid aplica a transição pending→paid e, SÓ quando esta chamada
// realizou a primeira transição, decrementa o estoque de cada item — tudo
// na mesma transação. Entregas repetidas viram no-op: primeiro pela guarda
// da entidade, depois pelo UPDATE condicional no banco (que decide corridas
// entre entregas concorrentes).
func (uc *PaymentUseCase) markOrderPaid(ctx context.Context, order *Order, paidAt time.Time) error {
	if order.IsTerminal() {
		logger.Log.Info("ℹ️ Order already in a terminal state, skipping",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status))
		return nil
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	first, err := uc.repository.MarkOrderPaid(ctx, tx, order.ID, paidAt)
	if err != nil {
		return err
	}

	if !first {
		// outra entrega venceu a corrida entre o fetch e o UPDATE condicional
		logger.Log.Info("ℹ️ Order already paid, skipping",
			zap.String("order_id", order.ID))
		return nil
	}

	if err := order.MarkPaid(paidAt); err != nil {
		return err
	}

	for _, item := range order.Items {
		if err := uc.repository.DecrementStock(ctx, tx, item.VariantID, item.Quantity, order.ID); err != nil {
			var stockErr *InsufficientStockError
			if errors.As(err, &stockErr) {
				// A variante esgotou entre a criação do pedido e a
				// confirmação. O dinheiro já foi capturado, então o pedido
				// vira paid mesmo assim; o estoque nunca fica negativo.
				logger.Log.Error("variant sold out before payment confirmation",
					zap.String("order_id", order.ID),
					zap.String("variant_id", stockErr.VariantID),
					zap.Int("requested", stockErr.Requested),
					zap.Int("available", stockErr.Available),
				)
				continue
			}
			return err
		}
	}

	return tx.Commit()
}

// markOrderFailed aplica a transição pending→failed. A guarda da entidade
// decide se há transição a aplicar; pedidos já terminais viram no-op sem
// tocar o banco, e o UPDATE condicional cobre corridas entre entregas.
func (uc *PaymentUseCase) markOrderFailed(ctx context.Context, order *Order) error {
	if err := order.MarkFailed(); err != nil {
		logger.Log.Info("ℹ️ Order already in a terminal state, skipping",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status))
		return nil
	}

	if err := uc.repository.UpdateOrderStatus(ctx, order.ID, OrderStatusFailed); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	uc.inc(ctx, uc.paymentRejectedCounter)
	return nil
}

// GetBuyerOrders lista os pedidos do comprador autenticado
func (uc *PaymentUseCase) GetBuyerOrders(ctx context.Context, buyerID string) ([]Order, error) {
	return uc.repository.GetOrdersByBuyer(ctx, buyerID)
}

// GetBuyerOrder busca um pedido do comprador autenticado
func (uc *PaymentUseCase) GetBuyerOrder(ctx context.Context, buyerID, orderID string) (*Order, error) {
	order, err := uc.repository.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// CancelBuyerOrder cancela um pedido pending do comprador autenticado.
// Nenhum estoque é devolvido: pedidos pending nunca decrementaram estoque.
func (uc *PaymentUseCase) CancelBuyerOrder(ctx context.Context, buyerID, orderID string) (*Order, error) {
	order, err := uc.GetBuyerOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}

	if err := order.Cancel(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := uc.repository.UpdateOrderStatus(ctx, order.ID, OrderStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	logger.Log.Info("🚫 Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", buyerID),
	)

	return order, nil
}

func (uc *PaymentUseCase) inc(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
