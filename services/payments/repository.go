package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository define a interface de persistência de pedidos, itens,
// transações de pagamento e estoque de variantes. Nenhum outro componente
// escreve nessas tabelas diretamente.
type OrderRepository interface {
	// GetVariantsForSale busca preço, estoque e dados de exibição
	// autoritativos das variantes informadas
	GetVariantsForSale(ctx context.Context, variantIDs []string) (map[string]*Variant, error)

	// CreateOrder persiste o pedido e todos os itens numa única transação
	CreateOrder(ctx context.Context, order *Order) error

	// SetOrderPreference grava o preference id retornado pelo gateway
	SetOrderPreference(ctx context.Context, orderID, preferenceID string) error

	// GetOrderByID busca um pedido com seus itens
	GetOrderByID(ctx context.Context, orderID string) (*Order, error)

	// GetOrdersByBuyer lista os pedidos de um comprador, mais recentes primeiro
	GetOrdersByBuyer(ctx context.Context, buyerID string) ([]Order, error)

	// UpdateOrderStatus aplica uma transição terminal condicionada a
	// status='pending'. Reaplicar a mesma transição é um no-op.
	UpdateOrderStatus(ctx context.Context, orderID, status string) error

	// MarkOrderPaid transiciona pending→paid dentro da transação e informa
	// se ESTA chamada realizou a primeira transição (chave da idempotência
	// do webhook e do decremento de estoque)
	MarkOrderPaid(ctx context.Context, tx Tx, orderID string, paidAt time.Time) (bool, error)

	// DecrementStock decrementa o estoque com guarda stock >= quantity e
	// registra o movimento. Estoque nunca fica negativo.
	DecrementStock(ctx context.Context, tx Tx, variantID string, quantity int, orderID string) error

	// RecordPaymentTransaction insere um registro append-only de tentativa
	RecordPaymentTransaction(ctx context.Context, txn *PaymentTransaction) error

	// HasPaymentTransaction verifica se o pagamento já foi registrado
	HasPaymentTransaction(ctx context.Context, orderID, paymentID string) (bool, error)

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// PostgresOrderRepository implementa OrderRepository usando PostgreSQL
type PostgresOrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de PostgresOrderRepository
func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PostgresOrderRepository{
		db: db,
	}
}

// BeginTx inicia uma nova transação
func (r *PostgresOrderRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// GetVariantsForSale busca as variantes do carrinho no catálogo
func (r *PostgresOrderRepository) GetVariantsForSale(ctx context.Context, variantIDs []string) (map[string]*Variant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_name, color_name, storage, image, price, stock
		FROM variants
		WHERE id = ANY($1)
	`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	variants := make(map[string]*Variant, len(variantIDs))
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.ColorName, &v.Storage, &v.Image, &v.Price, &v.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants[v.ID] = &v
	}
	return variants, rows.Err()
}

// CreateOrder cria o pedido e os itens numa única transação
func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	buyerData, err := json.Marshal(order.BuyerData)
	if err != nil {
		return fmt.Errorf("failed to marshal buyer data: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, buyer_id, total_amount, currency, status, payment_method, buyer_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.OrderNumber, order.BuyerID, order.TotalAmount, order.Currency, order.Status, order.PaymentMethod, buyerData, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, quantity, unit_price, name, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, item.VariantID, item.Quantity, item.UnitPrice, item.Name, item.Image)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SetOrderPreference grava o preference id do Checkout Pro no pedido
func (r *PostgresOrderRepository) SetOrderPreference(ctx context.Context, orderID, preferenceID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE orders SET preference_id = $1 WHERE id = $2
	`, preferenceID, orderID)
	return err
}

// GetOrderByID busca um pedido pelo ID com seus itens
func (r *PostgresOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	var buyerData []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, order_number, buyer_id, total_amount, currency, status, payment_method,
		       COALESCE(preference_id, ''), COALESCE(payment_id, ''), buyer_data, created_at, paid_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.BuyerID, &order.TotalAmount,
		&order.Currency, &order.Status, &order.PaymentMethod,
		&order.PreferenceID, &order.PaymentID, &buyerData, &order.CreatedAt, &order.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if len(buyerData) > 0 {
		if err := json.Unmarshal(buyerData, &order.BuyerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal buyer data: %w", err)
		}
	}

	rows, err := r.db.Query(ctx, `
		SELECT variant_id, quantity, unit_price, name, image
		FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.VariantID, &item.Quantity, &item.UnitPrice, &item.Name, &item.Image); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	return &order, rows.Err()
}

// GetOrdersByBuyer lista os pedidos de um comprador
func (r *PostgresOrderRepository) GetOrdersByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_number, total_amount, currency, status, payment_method, created_at, paid_at
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var order Order
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.TotalAmount, &order.Currency,
			&order.Status, &order.PaymentMethod, &order.CreatedAt, &order.PaidAt); err != nil {
			return nil, err
		}
		order.BuyerID = buyerID
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus aplica uma transição terminal de forma idempotente.
// A condição status='pending' garante que pedidos pagos nunca regridem.
func (r *PostgresOrderRepository) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
	`, status, orderID, OrderStatusPending)
	return err
}

// MarkOrderPaid faz a transição condicional pending→paid.
// RowsAffected == 1 significa que esta chamada realizou a primeira
// transição; entregas repetidas do webhook caem no caso 0.
func (r *PostgresOrderRepository) MarkOrderPaid(ctx context.Context, tx Tx, orderID string, paidAt time.Time) (bool, error) {
	pgTx := tx.(*PostgresTx).tx

	ct, err := pgTx.Exec(ctx, `
		UPDATE orders
		SET status = $1, paid_at = $2
		WHERE id = $3 AND status = $4
	`, OrderStatusPaid, paidAt, orderID, OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// DecrementStock decrementa o estoque da variante com guarda contra
// concorrência: o UPDATE condicional stock >= quantity é atômico no banco,
// então dois decrementos nunca passam do zero juntos.
func (r *PostgresOrderRepository) DecrementStock(ctx context.Context, tx Tx, variantID string, quantity int, orderID string) error {
	pgTx := tx.(*PostgresTx).tx

	ct, err := pgTx.Exec(ctx, `
		UPDATE variants
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, variantID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	if ct.RowsAffected() == 0 {
		var available int
		if err := pgTx.QueryRow(ctx, `SELECT stock FROM variants WHERE id = $1`, variantID).Scan(&available); err != nil {
			available = 0
		}
		return &InsufficientStockError{VariantID: variantID, Requested: quantity, Available: available}
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO stock_movements (id, variant_id, order_id, change_quantity, movement_type)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), variantID, orderID, quantity, "decreased")
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}

	return nil
}

// RecordPaymentTransaction insere o registro da tentativa de pagamento
func (r *PostgresOrderRepository) RecordPaymentTransaction(ctx context.Context, txn *PaymentTransaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_transactions (id, order_id, payment_id, status, status_detail, amount, payment_method_id, payment_type_id, response_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, txn.ID, txn.OrderID, txn.PaymentID, txn.Status, txn.StatusDetail, txn.Amount, txn.PaymentMethodID, txn.PaymentTypeID, txn.ResponseData)
	return err
}

// HasPaymentTransaction verifica se o pagamento já foi registrado (idempotência)
func (r *PostgresOrderRepository) HasPaymentTransaction(ctx context.Context, orderID, paymentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions
			WHERE order_id = $1 AND payment_id = $2
		)
	`, orderID, paymentID).Scan(&exists)
	return exists, err
}
