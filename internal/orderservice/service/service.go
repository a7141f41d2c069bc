package service

import (
	"context"
	"fmt"
	"time"

	"tavolino/internal/orderservice/db"
	"tavolino/internal/orderservice/metrics"
	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/status"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

// busyModeKey is the settings row toggled by the admin endpoint.
const busyModeKey = "busy_mode"

// Store is the persistence surface the order service drives.
type Store interface {
	PlaceOrder(ctx context.Context, p db.PlaceOrderParams) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderStatusLog(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error)
	UpdateOrderStatus(ctx context.Context, id int64, newStatus, column, changedBy string, now time.Time) (*models.Order, error)
	GetSettingBool(ctx context.Context, key string) (bool, error)
	SetSettingBool(ctx context.Context, key string, enabled bool) error
}

// Hub receives every event for the connected SSE audiences.
type Hub interface {
	Publish(event models.Event)
}

// Broker carries events across process boundaries to the notifier.
type Broker interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

// OrderService coordinates pricing, persistence and fan-out for one order
// operation at a time.
type OrderService struct {
	store   Store
	calc    *pricing.Calculator
	hub     Hub
	broker  Broker
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewOrderService(store Store, calc *pricing.Calculator, hub Hub, broker Broker, m *metrics.Metrics, log *logger.Logger) *OrderService {
	return &OrderService{
		store:   store,
		calc:    calc,
		hub:     hub,
		broker:  broker,
		metrics: m,
		logger:  log,
	}
}

// CreateOrder prices the validated request, persists the order atomically and
// fans the new_order event out. The caller has already sanitized and
// validated the request.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest, requestID string) (*models.CreateOrderResponse, error) {
	busy, err := s.store.GetSettingBool(ctx, busyModeKey)
	if err != nil {
		return nil, fmt.Errorf("read busy mode: %w", err)
	}

	now := time.Now().UTC()
	quote, err := s.calc.Quote(ctx, req, busy, now)
	if err != nil {
		return nil, err
	}

	order := models.Order{
		Status:          status.Pending,
		Type:            req.Type,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		Total:           quote.Total,
		Address:         req.Address,
		Phone:           req.Phone,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.PaymentUnpaid,
		ScheduledFor:    req.ScheduledFor,
		EstimatedReady:  quote.EstimatedReady,
		LoyaltyRedeemed: quote.LoyaltyRedeemPoints,
		LoyaltyEarned:   quote.LoyaltyEarnPoints,
	}
	if req.CustomerID > 0 {
		id := req.CustomerID
		order.CustomerID = &id
	}
	if quote.PromoCode != "" {
		code := quote.PromoCode
		order.PromoCode = &code
	}

	items := make([]models.OrderItem, 0, len(quote.Items))
	for _, qi := range quote.Items {
		items = append(items, models.OrderItem{
			MenuItemID: qi.MenuItemID,
			Name:       qi.Name,
			Quantity:   qi.Quantity,
			UnitPrice:  qi.UnitPrice,
			Options:    qi.Options,
			Notes:      qi.Notes,
		})
	}

	placed, err := s.store.PlaceOrder(ctx, db.PlaceOrderParams{
		Order:        order,
		Items:        items,
		PromoID:      quote.PromoID,
		RedeemPoints: quote.LoyaltyRedeemPoints,
		EarnPoints:   quote.LoyaltyEarnPoints,
		ChangedBy:    "customer",
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OrdersCreated.WithLabelValues("api").Inc()
	}
	s.PublishOrderEvent(ctx, models.Event{Type: models.EventNewOrder, Order: placed})

	s.logger.Info(requestID, "order_created",
		fmt.Sprintf("Created order %d, total %.2f", placed.ID, placed.Total))

	return &models.CreateOrderResponse{
		OrderID:         placed.ID,
		Status:          placed.Status,
		Subtotal:        placed.Subtotal,
		Discount:        placed.Discount,
		Total:           placed.Total,
		LoyaltyRedeemed: placed.LoyaltyRedeemed,
		LoyaltyEarned:   placed.LoyaltyEarned,
		EstimatedReady:  placed.EstimatedReady,
	}, nil
}

// UpdateStatus moves the order along the lifecycle. The transition is
// validated against the current row, then re-checked by the store's
// conditional update so concurrent writers cannot leave a terminal state.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, req *models.UpdateStatusRequest, requestID string) (*models.Order, error) {
	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	column, err := status.Validate(current, req.Status)
	if err != nil {
		return nil, err
	}

	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = "staff"
	}

	updated, err := s.store.UpdateOrderStatus(ctx, orderID, req.Status, column, changedBy, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(req.Status).Inc()
	}
	s.PublishOrderEvent(ctx, models.Event{Type: models.EventOrderUpdate, Order: updated})

	s.logger.Info(requestID, "status_updated",
		fmt.Sprintf("Order %d moved to %s", orderID, req.Status))
	return updated, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (s *OrderService) GetHistory(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.GetOrderStatusLog(ctx, orderID)
}

func (s *OrderService) BusyMode(ctx context.Context) (bool, error) {
	return s.store.GetSettingBool(ctx, busyModeKey)
}

func (s *OrderService) SetBusyMode(ctx context.Context, enabled bool, requestID string) error {
	if err := s.store.SetSettingBool(ctx, busyModeKey, enabled); err != nil {
		return err
	}
	s.logger.Info(requestID, "busy_mode_set", fmt.Sprintf("Busy mode set to %t", enabled))
	return nil
}

// PublishOrderEvent delivers the event to connected SSE subscribers and to
// the notification exchange. Broker failures are logged, not surfaced; the
// order is already committed and the HTTP response must not fail for it.
func (s *OrderService) PublishOrderEvent(ctx context.Context, event models.Event) {
	s.hub.Publish(event)
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	}
	if s.broker != nil {
		if err := s.broker.PublishEvent(ctx, event); err != nil {
			s.logger.Error("", "event_publish_failed", "Failed to publish event to the exchange", err)
		}
	}
}
