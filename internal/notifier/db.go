package notifier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

// PostgresStore reads customer preferences and writes the notification audit
// trail.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, log *logger.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: log}
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx, `
        SELECT id, name, email, phone, device_token, loyalty_points,
               notify_sms, notify_email, notify_push
        FROM customers WHERE id = $1
    `, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.DeviceToken, &c.LoyaltyPoints,
		&c.NotifySMS, &c.NotifyEmail, &c.NotifyPush)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n models.NotificationRecord) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO notifications (customer_id, order_id, channel, subject, body, status)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, n.CustomerID, n.OrderID, n.Channel, n.Subject, n.Body, n.Status)
	return err
}
