package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder persists the order and its line items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, total, status,
			shipping_name, shipping_address, shipping_city, shipping_country, shipping_postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.Total, order.Status,
		order.ShippingAddress.Name, order.ShippingAddress.Address, order.ShippingAddress.City,
		order.ShippingAddress.Country, order.ShippingAddress.PostalCode,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.GetContext(ctx, &item.ID,
			`INSERT INTO order_items (order_id, item_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			item.OrderID, item.ItemID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its line items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, []*models.Order{&order}); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves a buyer's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	return orders, s.loadItemsSlice(ctx, orders)
}

// ListOrders retrieves every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	return orders, s.loadItemsSlice(ctx, orders)
}

func (s *Store) loadItemsSlice(ctx context.Context, orders []models.Order) error {
	ptrs := make([]*models.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	return s.loadItems(ctx, ptrs)
}

func (s *Store) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []models.OrderItem{}
	}

	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return nil
}

// UpdateOrderStatusFrom moves the order to a new status only if it is still in
// the expected one, recording the payment details alongside. It reports
// whether a row was changed so callers can re-read and re-decide on a race.
func (s *Store) UpdateOrderStatusFrom(ctx context.Context, id int64, from, to models.OrderStatus, details models.PaymentDetails) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			payment_method = $2,
			payment_transaction_id = $3,
			payment_amount = $4,
			payment_currency = $5,
			paid_at = $6,
			payment_error = $7,
			updated_at = NOW()
		WHERE id = $8 AND status = $9`,
		to, details.Method, details.TransactionID, details.Amount, details.Currency,
		details.PaidAt, details.Error, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPaymentIntent records the processor intent started for the order
func (s *Store) SetPaymentIntent(ctx context.Context, id int64, method, intentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_method = $1, payment_transaction_id = $2, updated_at = NOW() WHERE id = $3",
		method, intentID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
