package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tavolino/internal/orderservice/db"
	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/status"
	"tavolino/pkg/config"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

var (
	ErrUnknownPlatform = errors.New("unknown delivery platform")
	ErrInvalidPayload  = errors.New("invalid platform payload")
)

// busyModeKey matches the settings row the admin endpoint toggles.
const busyModeKey = "busy_mode"

// Store is the slice of the order store the adapter needs.
type Store interface {
	GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error)
	FindMenuItemByName(ctx context.Context, name string) (*models.MenuItem, error)
	PlaceOrder(ctx context.Context, p db.PlaceOrderParams) (*models.Order, error)
	GetSettingBool(ctx context.Context, key string) (bool, error)
}

// Deduper reserves a key once; a second reservation reports the duplicate.
// Release frees a reservation whose order was never created, so the
// platform's retry is not mistaken for a duplicate.
type Deduper interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher fans the new order out exactly like a customer-placed one.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, event models.Event)
}

// Sanitizer strips HTML from platform-supplied free text.
type Sanitizer interface {
	Sanitize(s string) string
}

// Ingestor normalizes third-party delivery platform webhooks into the same
// order shape the rest of the pipeline consumes. Promo and loyalty logic are
// skipped: the platform already charged the customer.
type Ingestor struct {
	store       Store
	dedupe      Deduper
	publisher   Publisher
	sanitizer   Sanitizer
	mappers     map[string]mapperFunc
	sentinelID  int64
	baseMinutes int
	busyExtra   int
	logger      *logger.Logger
}

func NewIngestor(store Store, dedupe Deduper, publisher Publisher, sanitizer Sanitizer, cfg config.PlatformConfig, pricingCfg config.PricingConfig, log *logger.Logger) *Ingestor {
	return &Ingestor{
		store:       store,
		dedupe:      dedupe,
		publisher:   publisher,
		sanitizer:   sanitizer,
		mappers:     defaultMappers(),
		sentinelID:  cfg.SentinelMenuItemID,
		baseMinutes: pricingCfg.BaseMinutesDelivery,
		busyExtra:   pricingCfg.BusyModeExtraMinutes,
		logger:      log,
	}
}

// Platforms lists the registered platform names.
func (ing *Ingestor) Platforms() []string {
	names := make([]string, 0, len(ing.mappers))
	for name := range ing.mappers {
		names = append(names, name)
	}
	return names
}

// Ingest decodes the raw webhook payload, dedupes it on (platform,
// external_id), resolves items against the catalog and creates the order.
// The bool result reports a duplicate delivery: no order is created and the
// caller should acknowledge the webhook as already processed.
func (ing *Ingestor) Ingest(ctx context.Context, platformName string, payload []byte, requestID string) (*models.Order, bool, error) {
	mapper, ok := ing.mappers[platformName]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformName)
	}

	po, err := mapper(payload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if po.ExternalID == "" {
		return nil, false, fmt.Errorf("%w: missing external order id", ErrInvalidPayload)
	}
	if len(po.Items) == 0 {
		return nil, false, fmt.Errorf("%w: no items", ErrInvalidPayload)
	}

	key := fmt.Sprintf("platform_order:%s:%s", platformName, po.ExternalID)
	fresh, err := ing.dedupe.Reserve(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("dedupe reservation: %w", err)
	}
	if !fresh {
		ing.logger.Info(requestID, "duplicate_webhook",
			fmt.Sprintf("Duplicate %s webhook for external order %s", platformName, po.ExternalID))
		return nil, true, nil
	}

	items, total, err := ing.resolveItems(ctx, requestID, po.Items)
	if err != nil {
		ing.releaseReservation(ctx, key)
		return nil, false, err
	}

	busy, err := ing.store.GetSettingBool(ctx, busyModeKey)
	if err != nil {
		ing.releaseReservation(ctx, key)
		return nil, false, fmt.Errorf("read busy mode: %w", err)
	}
	minutes := ing.baseMinutes
	if busy {
		minutes += ing.busyExtra
	}

	now := time.Now().UTC()
	order := models.Order{
		CustomerID:     nil,
		Status:         status.Pending,
		Type:           models.TypeDelivery,
		Subtotal:       total,
		Discount:       0,
		Total:          total,
		Address:        ing.sanitizer.Sanitize(po.Address),
		Phone:          ing.sanitizer.Sanitize(po.Phone),
		Notes:          ing.sanitizer.Sanitize(po.Notes),
		PaymentMethod:  platformName,
		PaymentStatus:  models.PaymentPaid,
		EstimatedReady: now.Add(time.Duration(minutes) * time.Minute),
	}

	placed, err := ing.store.PlaceOrder(ctx, db.PlaceOrderParams{
		Order:     order,
		Items:     items,
		ChangedBy: "platform:" + platformName,
		Platform: &db.PlatformLink{
			Platform:   platformName,
			ExternalID: po.ExternalID,
			RawPayload: payload,
		},
	})
	if err != nil {
		// Free the reservation so the platform's redelivery can create
		// the order instead of being answered as a duplicate.
		ing.releaseReservation(ctx, key)
		return nil, false, err
	}

	ing.publisher.PublishOrderEvent(ctx, models.Event{Type: models.EventNewOrder, Order: placed})

	ing.logger.Info(requestID, "platform_order_created",
		fmt.Sprintf("Created order %d from %s external order %s", placed.ID, platformName, po.ExternalID))
	return placed, false, nil
}

func (ing *Ingestor) releaseReservation(ctx context.Context, key string) {
	if err := ing.dedupe.Release(ctx, key); err != nil {
		ing.logger.Error("", "dedupe_release_failed",
			fmt.Sprintf("Failed to release webhook reservation %s", key), err)
	}
}

// resolveItems maps raw platform items onto catalog entries by name,
// falling back to the sentinel item with the platform-quoted price.
func (ing *Ingestor) resolveItems(ctx context.Context, requestID string, raw []rawItem) ([]models.OrderItem, float64, error) {
	items := make([]models.OrderItem, 0, len(raw))
	unmatched := 0
	total := 0.0

	for _, ri := range raw {
		quantity := ri.Quantity
		if quantity < 1 {
			quantity = 1
		}

		match, err := ing.store.FindMenuItemByName(ctx, ri.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("match item %q: %w", ri.Name, err)
		}

		item := models.OrderItem{
			Quantity:  quantity,
			UnitPrice: ri.Price,
			Notes:     ing.sanitizer.Sanitize(ri.Notes),
		}
		if match != nil {
			item.MenuItemID = match.ID
			item.Name = match.Name
			if item.UnitPrice <= 0 {
				item.UnitPrice = match.Price
			}
		} else {
			unmatched++
			item.MenuItemID = ing.sentinelID
			item.Name = ing.sanitizer.Sanitize(ri.Name)
		}

		total += item.UnitPrice * float64(quantity)
		items = append(items, item)
	}

	if unmatched > 0 {
		ing.logger.Info(requestID, "platform_items_unmatched",
			fmt.Sprintf("%d of %d platform items fell back to the sentinel entry", unmatched, len(raw)))
	}
	return items, pricing.Round2(total), nil
}
