package notifier

import (
	"context"
	"fmt"

	"tavolino/internal/orderservice/status"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

// Store is the persistence surface of the dispatcher: customer contact
// preferences in, an audit row per delivery attempt out.
type Store interface {
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	InsertNotification(ctx context.Context, n models.NotificationRecord) error
}

// template is one customer-facing message rendered from an order.
type template struct {
	subject string
	body    func(o *models.Order) string
}

// templates maps an event to its message. new_order is keyed separately
// because the order is still pending when it fires.
var templates = map[string]template{
	"order_placed": {
		subject: "Order received",
		body: func(o *models.Order) string {
			return fmt.Sprintf("We received your order #%d (%.2f). Estimated ready at %s.",
				o.ID, o.Total, o.EstimatedReady.Format("15:04"))
		},
	},
	"order_confirmed": {
		subject: "Order confirmed",
		body: func(o *models.Order) string {
			return fmt.Sprintf("Your order #%d is confirmed. Estimated ready at %s.",
				o.ID, o.EstimatedReady.Format("15:04"))
		},
	},
	"order_preparing": {
		subject: "Order in the kitchen",
		body: func(o *models.Order) string {
			return fmt.Sprintf("Your order #%d is being prepared.", o.ID)
		},
	},
	"order_ready": {
		subject: "Order ready",
		body: func(o *models.Order) string {
			if o.Type == models.TypeDelivery {
				return fmt.Sprintf("Your order #%d is ready and will leave shortly.", o.ID)
			}
			return fmt.Sprintf("Your order #%d is ready for pickup.", o.ID)
		},
	},
	"order_out_for_delivery": {
		subject: "Order on its way",
		body: func(o *models.Order) string {
			return fmt.Sprintf("Your order #%d is out for delivery.", o.ID)
		},
	},
	"order_delivered": {
		subject: "Order delivered",
		body: func(o *models.Order) string {
			return fmt.Sprintf("Your order #%d was delivered. Enjoy!", o.ID)
		},
	},
	"order_cancelled": {
		subject: "Order cancelled",
		body: func(o *models.Order) string {
			return fmt.Sprintf("Your order #%d was cancelled.", o.ID)
		},
	},
}

// statusKeys maps an order_update's target status to its template key.
var statusKeys = map[string]string{
	status.Confirmed:      "order_confirmed",
	status.Preparing:      "order_preparing",
	status.Ready:          "order_ready",
	status.OutForDelivery: "order_out_for_delivery",
	status.Delivered:      "order_delivered",
	status.Cancelled:      "order_cancelled",
}

// Dispatcher turns order events into per-channel notifications, honoring the
// customer's opt-ins. A failing channel never blocks the others.
type Dispatcher struct {
	store   Store
	sms     SMSProvider
	email   EmailProvider
	push    PushProvider
	metrics *Metrics
	logger  *logger.Logger
}

func NewDispatcher(store Store, sms SMSProvider, email EmailProvider, push PushProvider, m *Metrics, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		sms:     sms,
		email:   email,
		push:    push,
		metrics: m,
		logger:  log,
	}
}

// Dispatch handles one event from the exchange. Events without a notifiable
// customer or without a message template are skipped silently; platform
// orders carry no customer and produce no notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event) error {
	if d.metrics != nil {
		d.metrics.EventsConsumed.WithLabelValues(event.Type).Inc()
	}

	order := event.Order
	if order == nil || order.CustomerID == nil {
		return nil
	}

	key := ""
	switch event.Type {
	case models.EventNewOrder:
		key = "order_placed"
	case models.EventOrderUpdate:
		key = statusKeys[order.Status]
	}
	tpl, ok := templates[key]
	if !ok {
		return nil
	}

	customer, err := d.store.GetCustomer(ctx, *order.CustomerID)
	if err != nil {
		return fmt.Errorf("lookup customer %d: %w", *order.CustomerID, err)
	}
	if customer == nil {
		d.logger.Debug("", "customer_missing",
			fmt.Sprintf("Order %d references unknown customer %d", order.ID, *order.CustomerID))
		return nil
	}

	body := tpl.body(order)

	if customer.NotifySMS && customer.Phone != "" {
		d.record(ctx, customer, order, ChannelSMS, tpl.subject, body,
			d.sms.SendSMS(ctx, customer.Phone, body))
	}
	if customer.NotifyEmail && customer.Email != "" {
		d.record(ctx, customer, order, ChannelEmail, tpl.subject, body,
			d.email.SendEmail(ctx, customer.Email, tpl.subject, body))
	}
	if customer.NotifyPush && customer.DeviceToken != "" {
		d.record(ctx, customer, order, ChannelPush, tpl.subject, body,
			d.push.SendPush(ctx, customer.DeviceToken, tpl.subject, body))
	}

	return nil
}

// record writes the audit row for one delivery attempt. Audit failures are
// logged rather than propagated; the message itself already went out.
func (d *Dispatcher) record(ctx context.Context, customer *models.Customer, order *models.Order, channel, subject, body string, sendErr error) {
	outcome := models.NotificationSent
	if sendErr != nil {
		outcome = models.NotificationFailed
		d.logger.Error("", "notification_failed",
			fmt.Sprintf("Failed to send %s notification for order %d", channel, order.ID), sendErr)
	}

	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(channel, outcome).Inc()
	}

	err := d.store.InsertNotification(ctx, models.NotificationRecord{
		CustomerID: customer.ID,
		OrderID:    order.ID,
		Channel:    channel,
		Subject:    subject,
		Body:       body,
		Status:     outcome,
	})
	if err != nil {
		d.logger.Error("", "notification_audit_failed",
			fmt.Sprintf("Failed to record %s notification for order %d", channel, order.ID), err)
	}
}
