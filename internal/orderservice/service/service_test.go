package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tavolino/internal/orderservice/db"
	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/status"
	"tavolino/pkg/config"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

type mockStore struct {
	mu           sync.Mutex
	orders       map[int64]*models.Order
	placed       []db.PlaceOrderParams
	settings     map[string]bool
	promoMaxUses map[int64]int
	promoUsed    map[int64]int
	nextID       int64
}

func newMockStore() *mockStore {
	return &mockStore{
		orders:       make(map[int64]*models.Order),
		settings:     make(map[string]bool),
		promoMaxUses: make(map[int64]int),
		promoUsed:    make(map[int64]int),
	}
}

// PlaceOrder mirrors the real store's conditional promo increment: the
// used-count check and the increment happen under one lock, judged at
// placement time.
func (m *mockStore) PlaceOrder(_ context.Context, p db.PlaceOrderParams) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.PromoID != nil {
		max := m.promoMaxUses[*p.PromoID]
		if max > 0 && m.promoUsed[*p.PromoID] >= max {
			return nil, pricing.ErrPromoExhausted
		}
		m.promoUsed[*p.PromoID]++
	}
	m.placed = append(m.placed, p)
	m.nextID++
	order := p.Order
	order.ID = m.nextID
	m.orders[order.ID] = &order
	return &order, nil
}

func (m *mockStore) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func (m *mockStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *mockStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	return nil, nil
}

func (m *mockStore) GetOrderStatusLog(_ context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	return []models.StatusLogEntry{{OrderID: orderID, Status: status.Pending, ChangedBy: "customer"}}, nil
}

func (m *mockStore) UpdateOrderStatus(_ context.Context, id int64, newStatus, column, changedBy string, now time.Time) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	if status.IsTerminal(order.Status) {
		return nil, status.ErrTerminalStatus
	}
	order.Status = newStatus
	order.UpdatedAt = now
	copied := *order
	return &copied, nil
}

func (m *mockStore) GetSettingBool(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[key], nil
}

func (m *mockStore) SetSettingBool(_ context.Context, key string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = enabled
	return nil
}

type mockHub struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *mockHub) Publish(event models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockHub) last() (models.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return models.Event{}, false
	}
	return m.events[len(m.events)-1], true
}

type mockBroker struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (m *mockBroker) PublishEvent(_ context.Context, event models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

type mockCatalog struct{}

func (mockCatalog) GetMenuItem(_ context.Context, id int64) (*models.MenuItem, error) {
	if id == 1 {
		return &models.MenuItem{ID: 1, Name: "Margherita", Price: 10.00, Active: true}, nil
	}
	return nil, nil
}

func (mockCatalog) GetMenuItemOptions(_ context.Context, _ int64) ([]models.MenuItemOption, error) {
	return nil, nil
}

func (mockCatalog) GetPromoCode(_ context.Context, _ string) (*models.PromoCode, error) {
	return nil, nil
}

func (mockCatalog) GetCustomerLoyaltyBalance(_ context.Context, _ int64) (int, error) {
	return 0, nil
}

func pricingConfig() config.PricingConfig {
	return config.PricingConfig{
		DeliveryMinimum:        15.00,
		BaseMinutesDelivery:    45,
		BaseMinutesPickup:      20,
		BusyModeExtraMinutes:   20,
		LoyaltyRedeemThreshold: 50,
		LoyaltyRedeemValue:     5.00,
		LoyaltyEarnRate:        1.0,
	}
}

func newTestService(store *mockStore, hub *mockHub, broker *mockBroker) *OrderService {
	return newTestServiceWithCatalog(mockCatalog{}, store, hub, broker)
}

func newTestServiceWithCatalog(catalog pricing.Catalog, store *mockStore, hub *mockHub, broker *mockBroker) *OrderService {
	log := logger.NewLogger("service-test")
	calc := pricing.NewCalculator(catalog, pricingConfig(), log)
	return NewOrderService(store, calc, hub, broker, nil, log)
}

func pickupRequest() *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		Type:  models.TypePickup,
		Items: []models.OrderItemRequest{{MenuItemID: 1, Quantity: 2}},
	}
}

func TestCreateOrder_PublishesNewOrder(t *testing.T) {
	store := newMockStore()
	hub := &mockHub{}
	broker := &mockBroker{}
	svc := newTestService(store, hub, broker)

	resp, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Total != 20.00 {
		t.Errorf("expected total 20.00, got %.2f", resp.Total)
	}
	if resp.Status != status.Pending {
		t.Errorf("expected pending, got %q", resp.Status)
	}

	event, ok := hub.last()
	if !ok || event.Type != models.EventNewOrder {
		t.Fatalf("expected new_order on the hub, got %+v", event)
	}
	if event.Order == nil || event.Order.ID != resp.OrderID {
		t.Errorf("event must carry the placed order")
	}
	if len(broker.events) != 1 {
		t.Fatalf("expected 1 event on the broker, got %d", len(broker.events))
	}
}

func TestCreateOrder_BrokerFailureDoesNotFailOrder(t *testing.T) {
	store := newMockStore()
	hub := &mockHub{}
	broker := &mockBroker{err: errors.New("connection refused")}
	svc := newTestService(store, hub, broker)

	resp, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("order must succeed despite a broker failure: %v", err)
	}
	if resp.OrderID == 0 {
		t.Fatal("expected an order id")
	}
	if _, ok := hub.last(); !ok {
		t.Fatal("hub must still receive the event")
	}
}

func TestCreateOrder_BusyModeExtendsEstimate(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockHub{}, &mockBroker{})

	calm, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.settings["busy_mode"] = true
	busy, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	diff := busy.EstimatedReady.Sub(calm.EstimatedReady)
	if diff < 19*time.Minute || diff > 21*time.Minute {
		t.Errorf("busy mode must add 20 minutes to the estimate, got %v", diff)
	}
}

// lastUnitCatalog serves a promo whose catalog row still looks redeemable;
// the store's conditional increment is the only thing standing between two
// concurrent redemptions.
type lastUnitCatalog struct {
	mockCatalog
}

func (lastUnitCatalog) GetPromoCode(_ context.Context, code string) (*models.PromoCode, error) {
	if strings.EqualFold(code, "LAST") {
		return &models.PromoCode{ID: 5, Code: "LAST", Type: models.PromoFixed, Value: 2, MaxUses: 1, UsedCount: 0, Active: true}, nil
	}
	return nil, nil
}

func TestCreateOrder_ConcurrentLastPromoUnit(t *testing.T) {
	store := newMockStore()
	store.promoMaxUses[5] = 1
	svc := newTestServiceWithCatalog(lastUnitCatalog{}, store, &mockHub{}, &mockBroker{})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := pickupRequest()
			req.PromoCode = "LAST"
			_, err := svc.CreateOrder(context.Background(), req, "req-concurrent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, exhausted := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, pricing.ErrPromoExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || exhausted != 1 {
		t.Fatalf("expected exactly one success and one exhausted, got %d/%d", succeeded, exhausted)
	}
	if store.placedCount() != 1 {
		t.Fatalf("expected exactly one order placed, got %d", store.placedCount())
	}
	if store.promoUsed[5] != 1 {
		t.Fatalf("used count must never exceed max uses, got %d", store.promoUsed[5])
	}
}

func TestUpdateStatus_PublishesOrderUpdate(t *testing.T) {
	store := newMockStore()
	hub := &mockHub{}
	svc := newTestService(store, hub, &mockBroker{})

	created, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), created.OrderID,
		&models.UpdateStatusRequest{Status: status.Confirmed}, "req-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != status.Confirmed {
		t.Errorf("expected confirmed, got %q", updated.Status)
	}

	event, _ := hub.last()
	if event.Type != models.EventOrderUpdate {
		t.Errorf("expected order_update, got %q", event.Type)
	}
}

func TestUpdateStatus_RejectsInvalidTransition(t *testing.T) {
	store := newMockStore()
	hub := &mockHub{}
	svc := newTestService(store, hub, &mockBroker{})

	created, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	published := len(hub.events)

	// Pickup orders never go out for delivery.
	_, err = svc.UpdateStatus(context.Background(), created.OrderID,
		&models.UpdateStatusRequest{Status: status.OutForDelivery}, "req-2")
	if !errors.Is(err, status.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if len(hub.events) != published {
		t.Error("rejected transition must not publish an event")
	}
}

func TestUpdateStatus_TerminalOrder(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockHub{}, &mockBroker{})

	created, err := svc.CreateOrder(context.Background(), pickupRequest(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), created.OrderID,
		&models.UpdateStatusRequest{Status: status.Cancelled}, "req-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), created.OrderID,
		&models.UpdateStatusRequest{Status: status.Confirmed}, "req-3")
	if !errors.Is(err, status.ErrTerminalStatus) {
		t.Fatalf("expected ErrTerminalStatus, got %v", err)
	}
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	svc := newTestService(newMockStore(), &mockHub{}, &mockBroker{})

	_, err := svc.UpdateStatus(context.Background(), 404,
		&models.UpdateStatusRequest{Status: status.Confirmed}, "req-1")
	if !errors.Is(err, db.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
