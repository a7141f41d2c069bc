package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"tavolino/pkg/config"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

var (
	ErrItemNotFound         = errors.New("menu item not found")
	ErrOptionNotFound       = errors.New("menu item option not found")
	ErrBelowDeliveryMinimum = errors.New("order below delivery minimum")
	ErrPromoNotFound        = errors.New("promo code not found")
	ErrPromoExpired         = errors.New("promo code expired")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoMinimumNotMet   = errors.New("order below promo minimum")
	// ErrInsufficientLoyaltyPoints is returned when the conditional balance
	// decrement loses the race at persist time.
	ErrInsufficientLoyaltyPoints = errors.New("insufficient loyalty points")
)

// Catalog is the read side of the order store the calculator prices against.
type Catalog interface {
	GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error)
	GetMenuItemOptions(ctx context.Context, menuItemID int64) ([]models.MenuItemOption, error)
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetCustomerLoyaltyBalance(ctx context.Context, customerID int64) (int, error)
}

// QuoteItem is a priced line item with its unit price snapshotted at quote
// time, immune to later menu edits.
type QuoteItem struct {
	MenuItemID int64
	Name       string
	Quantity   int
	UnitPrice  float64
	Options    string
	Notes      string
}

// Quote is the priced result of a cart. The conditional promo increment and
// loyalty decrement it references are performed atomically by the store when
// the order is persisted.
type Quote struct {
	Items               []QuoteItem
	Subtotal            float64
	Discount            float64
	Total               float64
	PromoID             *int64
	PromoCode           string
	LoyaltyRedeemPoints int
	LoyaltyEarnPoints   int
	EstimatedReady      time.Time
}

type Calculator struct {
	catalog Catalog
	cfg     config.PricingConfig
	logger  *logger.Logger
}

func NewCalculator(catalog Catalog, cfg config.PricingConfig, log *logger.Logger) *Calculator {
	return &Calculator{
		catalog: catalog,
		cfg:     cfg,
		logger:  log,
	}
}

// Quote resolves and prices the cart: catalog lookups, option surcharges,
// promo discount, loyalty redemption and the ready-time estimate. Rounding to
// two decimals happens once, on the final figures, to avoid compounding
// per-line rounding error.
func (c *Calculator) Quote(ctx context.Context, req *models.CreateOrderRequest, busy bool, now time.Time) (*Quote, error) {
	menuItems := make([]*models.MenuItem, len(req.Items))

	// Delivery minimum is checked against raw catalog prices before any
	// option is resolved.
	rawSubtotal := 0.0
	for i, line := range req.Items {
		item, err := c.catalog.GetMenuItem(ctx, line.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("lookup menu item %d: %w", line.MenuItemID, err)
		}
		if item == nil || !item.Active {
			return nil, fmt.Errorf("%w: id %d", ErrItemNotFound, line.MenuItemID)
		}
		menuItems[i] = item
		rawSubtotal += item.Price * float64(line.Quantity)
	}
	if req.Type == models.TypeDelivery && rawSubtotal < c.cfg.DeliveryMinimum {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrBelowDeliveryMinimum, rawSubtotal, c.cfg.DeliveryMinimum)
	}

	quote := &Quote{Items: make([]QuoteItem, 0, len(req.Items))}

	subtotal := 0.0
	for i, line := range req.Items {
		item := menuItems[i]
		unitPrice := item.Price

		selected, err := c.resolveOptions(ctx, item.ID, line.OptionIDs)
		if err != nil {
			return nil, err
		}
		for _, opt := range selected {
			unitPrice += opt.Price
		}

		optionsJSON := ""
		if len(selected) > 0 {
			raw, err := json.Marshal(selected)
			if err != nil {
				return nil, fmt.Errorf("serialize options: %w", err)
			}
			optionsJSON = string(raw)
		}

		subtotal += unitPrice * float64(line.Quantity)
		quote.Items = append(quote.Items, QuoteItem{
			MenuItemID: item.ID,
			Name:       item.Name,
			Quantity:   line.Quantity,
			UnitPrice:  unitPrice,
			Options:    optionsJSON,
			Notes:      line.Notes,
		})
	}

	discount := 0.0
	if code := strings.TrimSpace(req.PromoCode); code != "" {
		promoDiscount, promo, err := c.applyPromo(ctx, code, subtotal, now)
		if err != nil {
			return nil, err
		}
		discount += promoDiscount
		quote.PromoID = &promo.ID
		quote.PromoCode = promo.Code
	}

	if req.RedeemLoyalty && req.CustomerID > 0 {
		balance, err := c.catalog.GetCustomerLoyaltyBalance(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("lookup loyalty balance: %w", err)
		}
		if balance >= c.cfg.LoyaltyRedeemThreshold {
			discount += c.cfg.LoyaltyRedeemValue
			quote.LoyaltyRedeemPoints = c.cfg.LoyaltyRedeemThreshold
		}
	}

	// Discount never exceeds the subtotal; the total never goes negative.
	if discount > subtotal {
		discount = subtotal
	}

	quote.Subtotal = Round2(subtotal)
	quote.Discount = Round2(discount)
	if quote.Discount > quote.Subtotal {
		quote.Discount = quote.Subtotal
	}
	// The total is derived from the rounded figures, not the raw ones;
	// rounding all three independently breaks
	// total == round2(subtotal - discount) on half-cent ties.
	quote.Total = Round2(quote.Subtotal - quote.Discount)

	if req.CustomerID > 0 {
		quote.LoyaltyEarnPoints = int(math.Floor(quote.Total * c.cfg.LoyaltyEarnRate))
	}

	quote.EstimatedReady = c.estimateReady(req, busy, now)

	return quote, nil
}

func (c *Calculator) resolveOptions(ctx context.Context, menuItemID int64, optionIDs []int64) ([]models.MenuItemOption, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}

	available, err := c.catalog.GetMenuItemOptions(ctx, menuItemID)
	if err != nil {
		return nil, fmt.Errorf("lookup options for item %d: %w", menuItemID, err)
	}

	byID := make(map[int64]models.MenuItemOption, len(available))
	for _, opt := range available {
		byID[opt.ID] = opt
	}

	selected := make([]models.MenuItemOption, 0, len(optionIDs))
	for _, id := range optionIDs {
		opt, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d for item %d", ErrOptionNotFound, id, menuItemID)
		}
		selected = append(selected, opt)
	}
	return selected, nil
}

func (c *Calculator) applyPromo(ctx context.Context, code string, subtotal float64, now time.Time) (float64, *models.PromoCode, error) {
	promo, err := c.catalog.GetPromoCode(ctx, code)
	if err != nil {
		return 0, nil, fmt.Errorf("lookup promo: %w", err)
	}
	if promo == nil || !promo.Active {
		return 0, nil, fmt.Errorf("%w: %q", ErrPromoNotFound, code)
	}
	if promo.ExpiresAt != nil && promo.ExpiresAt.Before(now) {
		return 0, nil, fmt.Errorf("%w: %q", ErrPromoExpired, promo.Code)
	}
	// Pre-check only; the authoritative check is the conditional increment
	// inside the order placement transaction.
	if promo.MaxUses > 0 && promo.UsedCount >= promo.MaxUses {
		return 0, nil, fmt.Errorf("%w: %q", ErrPromoExhausted, promo.Code)
	}
	if subtotal < promo.MinOrder {
		return 0, nil, fmt.Errorf("%w: %.2f < %.2f", ErrPromoMinimumNotMet, subtotal, promo.MinOrder)
	}

	switch promo.Type {
	case models.PromoPercentage:
		return subtotal * promo.Value / 100, promo, nil
	case models.PromoFixed:
		return promo.Value, promo, nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown discount type %q", ErrPromoNotFound, promo.Type)
	}
}

func (c *Calculator) estimateReady(req *models.CreateOrderRequest, busy bool, now time.Time) time.Time {
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		return *req.ScheduledFor
	}

	minutes := c.cfg.BaseMinutesPickup
	if req.Type == models.TypeDelivery {
		minutes = c.cfg.BaseMinutesDelivery
	}
	if busy {
		minutes += c.cfg.BusyModeExtraMinutes
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}

// Round2 rounds a monetary amount to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
