package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// ListNotifications возвращает уведомления, новые первыми.
func (r *PostgresRepository) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, order_id, message, type, is_read, created_at
		 FROM notifications ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Username, &n.OrderID, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return notifications, nil
}

// MarkNotificationRead помечает уведомление прочитанным и возвращает обновлённую запись.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error) {
	var n model.Notification
	err := r.pool.QueryRow(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1
		 RETURNING id, username, order_id, message, type, is_read, created_at`,
		id,
	).Scan(&n.ID, &n.Username, &n.OrderID, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("update notification: %w", err)
	}
	return &n, nil
}

// DeleteNotification удаляет уведомление.
func (r *PostgresRepository) DeleteNotification(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DeleteExpiredNotifications удаляет уведомления старше ttl. Замена
// TTL-индекса хранилища: вызывается фоновым процессом обслуживания.
func (r *PostgresRepository) DeleteExpiredNotifications(ctx context.Context, ttl time.Duration) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < now() - make_interval(secs => $1)`,
		ttl.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
