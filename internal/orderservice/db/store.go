package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/status"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

// Store is the pgx-backed order store. All financial writes for one order
// placement happen inside a single transaction; the promo usage and loyalty
// balance checks are conditional updates judged by rows-affected, so two
// concurrent redemptions can never both win the last unit.
type Store struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

func NewStore(pool *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

const orderColumns = `id, customer_id, status, type, subtotal, discount, total,
       address, phone, notes, promo_code, payment_method, payment_status,
       scheduled_for, estimated_ready, loyalty_redeemed, loyalty_earned,
       confirmed_at, preparing_at, ready_at, delivered_at, cancelled_at,
       created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.Type, &o.Subtotal, &o.Discount, &o.Total,
		&o.Address, &o.Phone, &o.Notes, &o.PromoCode, &o.PaymentMethod, &o.PaymentStatus,
		&o.ScheduledFor, &o.EstimatedReady, &o.LoyaltyRedeemed, &o.LoyaltyEarned,
		&o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.DeliveredAt, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error) {
	var item models.MenuItem
	err := s.pool.QueryRow(ctx, `
        SELECT id, name, price, active FROM menu_items WHERE id = $1
    `, id).Scan(&item.ID, &item.Name, &item.Price, &item.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetMenuItemOptions(ctx context.Context, menuItemID int64) ([]models.MenuItemOption, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, menu_item_id, name, price FROM menu_item_options WHERE menu_item_id = $1
    `, menuItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []models.MenuItemOption
	for rows.Next() {
		var opt models.MenuItemOption
		if err := rows.Scan(&opt.ID, &opt.MenuItemID, &opt.Name, &opt.Price); err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

// FindMenuItemByName matches platform item names against the catalog:
// case-insensitive exact match first, then a contains match on active items.
func (s *Store) FindMenuItemByName(ctx context.Context, name string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := s.pool.QueryRow(ctx, `
        SELECT id, name, price, active FROM menu_items
        WHERE lower(name) = lower($1) AND active
        LIMIT 1
    `, name).Scan(&item.ID, &item.Name, &item.Price, &item.Active)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
        SELECT id, name, price, active FROM menu_items
        WHERE name ILIKE '%' || $1 || '%' AND active
        ORDER BY length(name)
        LIMIT 1
    `, name).Scan(&item.ID, &item.Name, &item.Price, &item.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := s.pool.QueryRow(ctx, `
        SELECT id, code, type, value, min_order, max_uses, used_count, expires_at, active
        FROM promo_codes
        WHERE lower(code) = lower($1)
    `, code).Scan(&promo.ID, &promo.Code, &promo.Type, &promo.Value, &promo.MinOrder,
		&promo.MaxUses, &promo.UsedCount, &promo.ExpiresAt, &promo.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
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

func (s *Store) GetCustomerLoyaltyBalance(ctx context.Context, customerID int64) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `
        SELECT loyalty_points FROM customers WHERE id = $1
    `, customerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// PlatformLink ties a platform-originated order to its source for
// reconciliation.
type PlatformLink struct {
	Platform   string
	ExternalID string
	RawPayload []byte
}

// PlaceOrderParams carries everything one order placement writes atomically.
type PlaceOrderParams struct {
	Order        models.Order
	Items        []models.OrderItem
	PromoID      *int64
	RedeemPoints int
	EarnPoints   int
	ChangedBy    string
	Platform     *PlatformLink
}

// PlaceOrder persists the order and every financial side effect in one
// transaction. Either every row is written or none is.
func (s *Store) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*models.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.PromoID != nil {
		ct, err := tx.Exec(ctx, `
            UPDATE promo_codes SET used_count = used_count + 1
            WHERE id = $1 AND active AND (max_uses = 0 OR used_count < max_uses)
        `, *p.PromoID)
		if err != nil {
			return nil, fmt.Errorf("redeem promo: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, pricing.ErrPromoExhausted
		}
	}

	if p.RedeemPoints > 0 && p.Order.CustomerID != nil {
		ct, err := tx.Exec(ctx, `
            UPDATE customers SET loyalty_points = loyalty_points - $2
            WHERE id = $1 AND loyalty_points >= $2
        `, *p.Order.CustomerID, p.RedeemPoints)
		if err != nil {
			return nil, fmt.Errorf("redeem loyalty points: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, pricing.ErrInsufficientLoyaltyPoints
		}
	}

	o := p.Order
	err = tx.QueryRow(ctx, `
        INSERT INTO orders (customer_id, status, type, subtotal, discount, total,
                            address, phone, notes, promo_code, payment_method, payment_status,
                            scheduled_for, estimated_ready, loyalty_redeemed, loyalty_earned)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        RETURNING id, created_at, updated_at
    `, o.CustomerID, o.Status, o.Type, o.Subtotal, o.Discount, o.Total,
		o.Address, o.Phone, o.Notes, o.PromoCode, o.PaymentMethod, o.PaymentStatus,
		o.ScheduledFor, o.EstimatedReady, o.LoyaltyRedeemed, o.LoyaltyEarned,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range p.Items {
		batch.Queue(`
            INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price, options, notes)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, o.ID, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice, item.Options, item.Notes)
	}
	br := tx.SendBatch(ctx, batch)
	for range p.Items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("insert order items: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO order_status_log (order_id, status, changed_by)
        VALUES ($1, $2, $3)
    `, o.ID, o.Status, p.ChangedBy)
	if err != nil {
		return nil, fmt.Errorf("log order status: %w", err)
	}

	if p.RedeemPoints > 0 && o.CustomerID != nil {
		_, err = tx.Exec(ctx, `
            INSERT INTO loyalty_ledger (customer_id, order_id, delta, reason)
            VALUES ($1, $2, $3, 'points redeemed')
        `, *o.CustomerID, o.ID, -p.RedeemPoints)
		if err != nil {
			return nil, fmt.Errorf("write redemption ledger entry: %w", err)
		}
	}

	if p.EarnPoints > 0 && o.CustomerID != nil {
		_, err = tx.Exec(ctx, `
            INSERT INTO loyalty_ledger (customer_id, order_id, delta, reason)
            VALUES ($1, $2, $3, 'points earned')
        `, *o.CustomerID, o.ID, p.EarnPoints)
		if err != nil {
			return nil, fmt.Errorf("write earning ledger entry: %w", err)
		}
		_, err = tx.Exec(ctx, `
            UPDATE customers SET loyalty_points = loyalty_points + $2 WHERE id = $1
        `, *o.CustomerID, p.EarnPoints)
		if err != nil {
			return nil, fmt.Errorf("credit loyalty points: %w", err)
		}
	}

	if p.Platform != nil {
		_, err = tx.Exec(ctx, `
            INSERT INTO platform_orders (order_id, platform, external_id, raw_payload)
            VALUES ($1, $2, $3, $4)
        `, o.ID, p.Platform.Platform, p.Platform.ExternalID, p.Platform.RawPayload)
		if err != nil {
			return nil, fmt.Errorf("link platform order: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx, `
        SELECT `+orderColumns+` FROM orders WHERE id = $1
    `, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, order_id, menu_item_id, name, quantity, unit_price, options, notes
        FROM order_items WHERE order_id = $1 ORDER BY id
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.Options, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetOrderStatusLog(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, order_id, status, changed_by, notes, created_at
        FROM order_status_log WHERE order_id = $1 ORDER BY created_at, id
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.StatusLogEntry
	for rows.Next() {
		var e models.StatusLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// statusTimestampColumns whitelists the column names interpolated into the
// status update statement.
var statusTimestampColumns = map[string]bool{
	"confirmed_at": true,
	"preparing_at": true,
	"ready_at":     true,
	"delivered_at": true,
	"cancelled_at": true,
}

// UpdateOrderStatus stamps the new status, its timestamp column and
// updated_at, guarded against leaving a terminal status even under
// concurrent transitions.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, newStatus, column, changedBy string, now time.Time) (*models.Order, error) {
	stamp := ""
	if column != "" {
		if !statusTimestampColumns[column] {
			return nil, fmt.Errorf("unknown timestamp column %q", column)
		}
		stamp = fmt.Sprintf(", %s = $3", column)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx, `
        UPDATE orders SET status = $2, updated_at = $3`+stamp+`
        WHERE id = $1 AND status NOT IN ('delivered', 'cancelled')
        RETURNING `+orderColumns+`
    `, id, newStatus, now))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the order does not exist or a concurrent transition
		// already reached a terminal status.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrOrderNotFound
		}
		return nil, status.ErrTerminalStatus
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO order_status_log (order_id, status, changed_by)
        VALUES ($1, $2, $3)
    `, id, newStatus, changedBy)
	if err != nil {
		return nil, fmt.Errorf("log order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

func (s *Store) GetSettingBool(ctx context.Context, key string) (bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *Store) SetSettingBool(ctx context.Context, key string, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO settings (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
    `, key, value)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
