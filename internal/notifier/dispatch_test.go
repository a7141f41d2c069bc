package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tavolino/internal/orderservice/status"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

type mockNotifierStore struct {
	mu        sync.Mutex
	customers map[int64]models.Customer
	records   []models.NotificationRecord
}

func (m *mockNotifierStore) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *mockNotifierStore) InsertNotification(_ context.Context, n models.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, n)
	return nil
}

func (m *mockNotifierStore) byChannel() map[string]models.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.NotificationRecord, len(m.records))
	for _, r := range m.records {
		out[r.Channel] = r
	}
	return out
}

type mockProviders struct {
	mu     sync.Mutex
	sent   []string
	smsErr error
}

func (m *mockProviders) SendSMS(_ context.Context, phone, body string) error {
	if m.smsErr != nil {
		return m.smsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, ChannelSMS)
	return nil
}

func (m *mockProviders) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, ChannelEmail)
	return nil
}

func (m *mockProviders) SendPush(_ context.Context, deviceToken, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, ChannelPush)
	return nil
}

func allChannelsCustomer() models.Customer {
	return models.Customer{
		ID:          42,
		Name:        "Anna",
		Email:       "anna@example.com",
		Phone:       "+4917612345678",
		DeviceToken: "tok-1",
		NotifySMS:   true,
		NotifyEmail: true,
		NotifyPush:  true,
	}
}

func newTestDispatcher(store *mockNotifierStore, providers *mockProviders) *Dispatcher {
	log := logger.NewLogger("notifier-test")
	return NewDispatcher(store, providers, providers, providers, nil, log)
}

func confirmedOrder(customerID int64) *models.Order {
	id := customerID
	return &models.Order{
		ID:             7,
		CustomerID:     &id,
		Status:         status.Confirmed,
		Type:           models.TypePickup,
		Total:          20.00,
		EstimatedReady: time.Date(2025, time.June, 2, 18, 20, 0, 0, time.UTC),
	}
}

func TestDispatch_AllChannels(t *testing.T) {
	store := &mockNotifierStore{customers: map[int64]models.Customer{42: allChannelsCustomer()}}
	providers := &mockProviders{}
	d := newTestDispatcher(store, providers)

	err := d.Dispatch(context.Background(), models.Event{
		Type:  models.EventOrderUpdate,
		Order: confirmedOrder(42),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := store.byChannel()
	if len(records) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(records))
	}
	for _, channel := range []string{ChannelSMS, ChannelEmail, ChannelPush} {
		r, ok := records[channel]
		if !ok {
			t.Fatalf("missing %s record", channel)
		}
		if r.Status != models.NotificationSent {
			t.Errorf("%s: expected sent, got %q", channel, r.Status)
		}
		if r.OrderID != 7 || r.CustomerID != 42 {
			t.Errorf("%s: wrong order/customer linkage: %+v", channel, r)
		}
	}
}

func TestDispatch_FailedChannelIsIsolated(t *testing.T) {
	store := &mockNotifierStore{customers: map[int64]models.Customer{42: allChannelsCustomer()}}
	providers := &mockProviders{smsErr: errors.New("gateway timeout")}
	d := newTestDispatcher(store, providers)

	err := d.Dispatch(context.Background(), models.Event{
		Type:  models.EventOrderUpdate,
		Order: confirmedOrder(42),
	})
	if err != nil {
		t.Fatalf("a failing channel must not fail the dispatch: %v", err)
	}

	records := store.byChannel()
	if records[ChannelSMS].Status != models.NotificationFailed {
		t.Errorf("sms must be recorded as failed, got %q", records[ChannelSMS].Status)
	}
	if records[ChannelEmail].Status != models.NotificationSent {
		t.Errorf("email must still be sent, got %q", records[ChannelEmail].Status)
	}
	if records[ChannelPush].Status != models.NotificationSent {
		t.Errorf("push must still be sent, got %q", records[ChannelPush].Status)
	}
}

func TestDispatch_HonorsOptOuts(t *testing.T) {
	customer := allChannelsCustomer()
	customer.NotifySMS = false
	customer.DeviceToken = "" // push opted in but no token registered
	store := &mockNotifierStore{customers: map[int64]models.Customer{42: customer}}
	providers := &mockProviders{}
	d := newTestDispatcher(store, providers)

	if err := d.Dispatch(context.Background(), models.Event{
		Type:  models.EventOrderUpdate,
		Order: confirmedOrder(42),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := store.byChannel()
	if len(records) != 1 {
		t.Fatalf("expected only the email record, got %d", len(records))
	}
	if _, ok := records[ChannelEmail]; !ok {
		t.Fatal("email record missing")
	}
}

func TestDispatch_SkipsNonNotifiableEvents(t *testing.T) {
	store := &mockNotifierStore{customers: map[int64]models.Customer{42: allChannelsCustomer()}}
	providers := &mockProviders{}
	d := newTestDispatcher(store, providers)

	platformOrder := confirmedOrder(42)
	platformOrder.CustomerID = nil

	pendingUpdate := confirmedOrder(42)
	pendingUpdate.Status = status.Pending

	cases := []struct {
		name  string
		event models.Event
	}{
		{"heartbeat", models.Event{Type: models.EventHeartbeat}},
		{"order without customer", models.Event{Type: models.EventNewOrder, Order: platformOrder}},
		{"update without template", models.Event{Type: models.EventOrderUpdate, Order: pendingUpdate}},
		{"unknown customer", models.Event{Type: models.EventNewOrder, Order: confirmedOrder(404)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := d.Dispatch(context.Background(), tc.event); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no notifications, got %d", len(store.records))
	}
}

func TestDispatch_NewOrderUsesPlacedTemplate(t *testing.T) {
	store := &mockNotifierStore{customers: map[int64]models.Customer{42: allChannelsCustomer()}}
	providers := &mockProviders{}
	d := newTestDispatcher(store, providers)

	order := confirmedOrder(42)
	order.Status = status.Pending

	if err := d.Dispatch(context.Background(), models.Event{
		Type:  models.EventNewOrder,
		Order: order,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := store.byChannel()
	if records[ChannelEmail].Subject != "Order received" {
		t.Errorf("expected the placed template, got subject %q", records[ChannelEmail].Subject)
	}
}
