package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// CreateOrder сохраняет заказ, его позиции, уведомление и событие outbox
// в одной транзакции: сбой на любом шаге откатывает всё целиком.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order, n *model.Notification) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, ship_address, ship_city, ship_postal_code, ship_country,
		                     payment_method, items_price, shipping_price, tax_price, total_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		o.UserID, o.ShippingAddress.Address, o.ShippingAddress.City,
		o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		string(o.PaymentMethod), o.ItemsPriceCents, o.ShippingPriceCents,
		o.TaxPriceCents, o.TotalPriceCents,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.OrderItems {
		item := &o.OrderItems[i]
		item.OrderID = o.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, product_id, name, qty, price, image)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			item.OrderID, item.ProductID, item.Name, item.Qty, item.PriceCents, item.Image,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	n.OrderID = o.ID
	n.Message = fmt.Sprintf("New order placed by %s. Order ID: %d", n.Username, o.ID)
	err = tx.QueryRow(ctx,
		`INSERT INTO notifications (username, order_id, message, type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, is_read, created_at`,
		n.Username, n.OrderID, n.Message, n.Type,
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (topic, payload) VALUES ($1, $2)`,
		model.TopicOrderCreated, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

const orderColumns = `o.id, o.user_id, u.username, u.email,
	o.ship_address, o.ship_city, o.ship_postal_code, o.ship_country,
	o.payment_method, o.items_price, o.shipping_price, o.tax_price, o.total_price,
	o.is_paid, o.paid_at, o.payment_id, o.payment_status, o.payment_update_time, o.payment_email,
	o.is_delivered, o.delivered_at, o.created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o         model.Order
		method    string
		paymentID *string
		payStatus *string
		payUpdate *string
		payEmail  *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Username, &o.UserEmail,
		&o.ShippingAddress.Address, &o.ShippingAddress.City,
		&o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&method, &o.ItemsPriceCents, &o.ShippingPriceCents, &o.TaxPriceCents, &o.TotalPriceCents,
		&o.IsPaid, &o.PaidAt, &paymentID, &payStatus, &payUpdate, &payEmail,
		&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.PaymentMethod = model.PaymentMethod(method)
	if paymentID != nil {
		o.PaymentResult = &model.PaymentResult{
			ID:           *paymentID,
			Status:       deref(payStatus),
			UpdateTime:   deref(payUpdate),
			EmailAddress: deref(payEmail),
		}
	}

	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetOrderByID возвращает заказ с позициями и данными покупателя.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o JOIN users u ON u.id = o.user_id WHERE o.id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.orderItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.OrderItems = items[o.ID]

	return o, nil
}

// ListOrders возвращает все заказы с данными покупателей.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders o JOIN users u ON u.id = o.user_id ORDER BY o.created_at DESC`,
	)
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders o JOIN users u ON u.id = o.user_id
		 WHERE o.user_id = $1 ORDER BY o.created_at DESC`,
		userID,
	)
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.orderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].OrderItems = items[orders[i].ID]
	}

	return orders, nil
}

func (r *PostgresRepository) orderItems(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, name, qty, price, image
		 FROM order_items WHERE order_id = ANY($1) ORDER BY id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]model.OrderItem)
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Qty, &item.PriceCents, &item.Image); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// MarkOrderPaid переводит заказ в состояние «оплачен». Переход монотонный:
// повторное подтверждение уже оплаченного заказа отклоняется, paidAt и
// paymentResult не перезаписываются. Событие order.paid пишется в outbox
// той же транзакцией.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, id int64, result model.PaymentResult) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		paidAt     time.Time
		totalCents int64
	)
	err = tx.QueryRow(ctx,
		`UPDATE orders
		 SET is_paid = TRUE, paid_at = now(),
		     payment_id = $2, payment_status = $3, payment_update_time = $4, payment_email = $5
		 WHERE id = $1 AND is_paid = FALSE
		 RETURNING paid_at, total_price`,
		id, result.ID, result.Status, result.UpdateTime, result.EmailAddress,
	).Scan(&paidAt, &totalCents)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update order: %w", err)
		}

		var isPaid bool
		err = tx.QueryRow(ctx, `SELECT is_paid FROM orders WHERE id = $1`, id).Scan(&isPaid)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("select order: %w", err)
		}
		return nil, ErrOrderAlreadyPaid
	}

	var event model.OrderPaidEvent
	err = tx.QueryRow(ctx,
		`SELECT u.username, u.email FROM orders o JOIN users u ON u.id = o.user_id WHERE o.id = $1`,
		id,
	).Scan(&event.Username, &event.Email)
	if err != nil {
		return nil, fmt.Errorf("select order user: %w", err)
	}

	event.OrderID = id
	event.TotalCents = totalCents
	event.PaidAt = paidAt

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (topic, payload) VALUES ($1, $2)`,
		model.TopicOrderPaid, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return r.GetOrderByID(ctx, id)
}

// MarkOrderDelivered переводит заказ в состояние «доставлен».
func (r *PostgresRepository) MarkOrderDelivered(ctx context.Context, id int64) (*model.Order, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET is_delivered = TRUE, delivered_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrOrderNotFound
	}

	return r.GetOrderByID(ctx, id)
}

// CountOrders возвращает общее число заказов.
func (r *PostgresRepository) CountOrders(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

// TotalSales возвращает сумму всех заказов в копейках.
func (r *PostgresRepository) TotalSales(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_price), 0) FROM orders`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum sales: %w", err)
	}
	return total, nil
}

// DailySales описывает сумму оплаченных заказов за один день.
type DailySales struct {
	Date       string
	TotalCents int64
}

// TotalSalesByDate возвращает суммы оплаченных заказов, сгруппированные по дате оплаты.
func (r *PostgresRepository) TotalSalesByDate(ctx context.Context) ([]DailySales, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT to_char(paid_at, 'YYYY-MM-DD') AS day, SUM(total_price)
		 FROM orders
		 WHERE is_paid
		 GROUP BY day
		 ORDER BY day`,
	)
	if err != nil {
		return nil, fmt.Errorf("select sales by date: %w", err)
	}
	defer rows.Close()

	var res []DailySales
	for rows.Next() {
		var d DailySales
		if err := rows.Scan(&d.Date, &d.TotalCents); err != nil {
			return nil, fmt.Errorf("scan sales: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPendingEvents возвращает события outbox, готовые к доставке.
func (r *PostgresRepository) GetPendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, topic, payload, retry_count, next_retry_at, created_at
		 FROM outbox_events
		 WHERE next_retry_at <= now()
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select outbox events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.RetryCount, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

// DeleteEvent удаляет доставленное событие outbox.
func (r *PostgresRepository) DeleteEvent(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM outbox_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete outbox event: %w", err)
	}
	return nil
}

// UpdateEventRetry откладывает повторную доставку события outbox.
func (r *PostgresRepository) UpdateEventRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET retry_count = $2, next_retry_at = $3 WHERE id = $1`,
		id, retryCount, nextRetryAt,
	); err != nil {
		return fmt.Errorf("update outbox event: %w", err)
	}
	return nil
}
