package events

import (
	"context"
	"sync"
	"time"

	"tavolino/pkg/logger"
	"tavolino/pkg/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// subscriberBuffer bounds how far a consumer may fall behind before it is
// dropped. Publishing never blocks on a slow consumer.
const subscriberBuffer = 16

// HeartbeatInterval is how often every open subscriber receives a keep-alive
// event, defeating idle-connection timeouts in intermediary proxies.
const HeartbeatInterval = 20 * time.Second

// Subscriber is a live output channel registered with the hub. OrderID is nil
// for the global operations audience and set for a per-order tracking view.
type Subscriber struct {
	ID      string
	OrderID *int64
	C       chan models.Event
	done    chan struct{}
}

// Done is closed when the hub removes the subscriber, whether through
// Unsubscribe or after a failed delivery.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub fans order events out to two audiences: a global one receiving every
// event, and per-order audiences receiving updates for one order id. The
// registries are guarded by a single mutex; channel sends happen outside it
// and never block.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*Subscriber
	global  map[string]*Subscriber
	byOrder map[int64]map[string]*Subscriber
	closed  bool

	logger *logger.Logger
	gauge  prometheus.Gauge
}

func NewHub(log *logger.Logger, gauge prometheus.Gauge) *Hub {
	return &Hub{
		subs:    make(map[string]*Subscriber),
		global:  make(map[string]*Subscriber),
		byOrder: make(map[int64]map[string]*Subscriber),
		logger:  log,
		gauge:   gauge,
	}
}

// Subscribe registers a new subscriber. A nil orderID joins the global
// audience; otherwise only updates for that order are delivered.
func (h *Hub) Subscribe(orderID *int64) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		OrderID: orderID,
		C:       make(chan models.Event, subscriberBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.done)
		return sub
	}

	h.subs[sub.ID] = sub
	if orderID == nil {
		h.global[sub.ID] = sub
	} else {
		set, ok := h.byOrder[*orderID]
		if !ok {
			set = make(map[string]*Subscriber)
			h.byOrder[*orderID] = set
		}
		set[sub.ID] = sub
	}

	if h.gauge != nil {
		h.gauge.Inc()
	}
	return sub
}

// Unsubscribe removes the subscriber from the registry. Safe to call more
// than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	delete(h.global, id)
	if sub.OrderID != nil {
		if set, ok := h.byOrder[*sub.OrderID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(h.byOrder, *sub.OrderID)
			}
		}
	}
	close(sub.done)
	if h.gauge != nil {
		h.gauge.Dec()
	}
}

// Publish delivers the event to its audiences: new_order to the global
// audience, order_update to the global audience plus the matching per-order
// one, heartbeat to everyone. A subscriber whose buffer is full is dropped
// silently; the publisher never sees an error.
func (h *Hub) Publish(event models.Event) {
	h.mu.Lock()
	var targets []*Subscriber
	switch event.Type {
	case models.EventHeartbeat:
		targets = make([]*Subscriber, 0, len(h.subs))
		for _, sub := range h.subs {
			targets = append(targets, sub)
		}
	case models.EventOrderUpdate:
		targets = make([]*Subscriber, 0, len(h.global))
		for _, sub := range h.global {
			targets = append(targets, sub)
		}
		if event.Order != nil {
			for _, sub := range h.byOrder[event.Order.ID] {
				targets = append(targets, sub)
			}
		}
	default: // new_order and anything else global-only
		targets = make([]*Subscriber, 0, len(h.global))
		for _, sub := range h.global {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	var dropped []string
	for _, sub := range targets {
		select {
		case sub.C <- event:
		default:
			dropped = append(dropped, sub.ID)
		}
	}

	if len(dropped) > 0 {
		h.mu.Lock()
		for _, id := range dropped {
			h.removeLocked(id)
		}
		h.mu.Unlock()
		h.logger.Debug("", "subscriber_dropped", "Removed slow event subscribers")
	}
}

// Run emits heartbeats until the context is cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Publish(models.Event{Type: models.EventHeartbeat})
		}
	}
}

// Close drops every subscriber and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
