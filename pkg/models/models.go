package models

import (
	"time"
)

// Fulfillment types.
const (
	TypeDelivery = "delivery"
	TypePickup   = "pickup"
)

// Promo discount types.
const (
	PromoPercentage = "percentage"
	PromoFixed      = "fixed"
)

// Payment statuses.
const (
	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
)

type Order struct {
	ID              int64      `json:"id"`
	CustomerID      *int64     `json:"customer_id,omitempty"`
	Status          string     `json:"status"`
	Type            string     `json:"type"`
	Subtotal        float64    `json:"subtotal"`
	Discount        float64    `json:"discount"`
	Total           float64    `json:"total"`
	Address         string     `json:"address,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	PromoCode       *string    `json:"promo_code,omitempty"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	PaymentStatus   string     `json:"payment_status"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	EstimatedReady  time.Time  `json:"estimated_ready"`
	LoyaltyRedeemed int        `json:"loyalty_redeemed"`
	LoyaltyEarned   int        `json:"loyalty_earned"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	PreparingAt     *time.Time `json:"preparing_at,omitempty"`
	ReadyAt         *time.Time `json:"ready_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type OrderItem struct {
	ID         int64   `json:"id"`
	OrderID    int64   `json:"order_id"`
	MenuItemID int64   `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	Options    string  `json:"options,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

type MenuItem struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Active bool    `json:"active"`
}

type MenuItemOption struct {
	ID         int64   `json:"id"`
	MenuItemID int64   `json:"menu_item_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
}

type PromoCode struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Type      string     `json:"type"`
	Value     float64    `json:"value"`
	MinOrder  float64    `json:"min_order"`
	MaxUses   int        `json:"max_uses"`
	UsedCount int        `json:"used_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

type Customer struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	DeviceToken   string `json:"device_token,omitempty"`
	LoyaltyPoints int    `json:"loyalty_points"`
	NotifySMS     bool   `json:"notify_sms"`
	NotifyEmail   bool   `json:"notify_email"`
	NotifyPush    bool   `json:"notify_push"`
}

type LoyaltyLedgerEntry struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	OrderID    *int64    `json:"order_id,omitempty"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification delivery statuses.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type NotificationRecord struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	OrderID    int64     `json:"order_id"`
	Channel    string    `json:"channel"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type StatusLogEntry struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event types carried over the fan-out hub, the SSE streams and the
// notification exchange.
const (
	EventNewOrder    = "new_order"
	EventOrderUpdate = "order_update"
	EventConnected   = "connected"
	EventHeartbeat   = "heartbeat"
)

type Event struct {
	Type  string `json:"type"`
	Order *Order `json:"order,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID    int64              `json:"customer_id"`
	Type          string             `json:"type"`
	Address       string             `json:"address,omitempty"`
	Phone         string             `json:"phone,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	PromoCode     string             `json:"promo_code,omitempty"`
	RedeemLoyalty bool               `json:"redeem_loyalty,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	ScheduledFor  *time.Time         `json:"scheduled_for,omitempty"`
	Items         []OrderItemRequest `json:"items"`
}

type OrderItemRequest struct {
	MenuItemID int64   `json:"menu_item_id"`
	Quantity   int     `json:"quantity"`
	OptionIDs  []int64 `json:"option_ids,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

type CreateOrderResponse struct {
	OrderID         int64     `json:"order_id"`
	Status          string    `json:"status"`
	Subtotal        float64   `json:"subtotal"`
	Discount        float64   `json:"discount"`
	Total           float64   `json:"total"`
	LoyaltyRedeemed int       `json:"loyalty_redeemed"`
	LoyaltyEarned   int       `json:"loyalty_earned"`
	EstimatedReady  time.Time `json:"estimated_ready"`
}

type UpdateStatusRequest struct {
	Status    string `json:"status"`
	ChangedBy string `json:"changed_by,omitempty"`
}

type PlatformOrderResponse struct {
	Success   bool  `json:"success"`
	OrderID   int64 `json:"order_id,omitempty"`
	Duplicate bool  `json:"duplicate,omitempty"`
}
