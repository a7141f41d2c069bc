package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tavolino/pkg/models"

	"github.com/microcosm-cc/bluemonday"
)

var ErrValidation = errors.New("validation failed")

const (
	MinAddressLen = 5
	MaxAddressLen = 200
	MaxPhoneLen   = 30
	MaxNotesLen   = 500
	MaxItems      = 20
	MaxQuantity   = 20
)

// OrderValidator checks create-order requests and strips HTML from every
// free-text field before anything is persisted.
type OrderValidator struct {
	policy *bluemonday.Policy
}

func NewOrderValidator() *OrderValidator {
	return &OrderValidator{policy: bluemonday.StrictPolicy()}
}

// Sanitize strips all HTML and trims surrounding whitespace.
func (v *OrderValidator) Sanitize(s string) string {
	return strings.TrimSpace(v.policy.Sanitize(s))
}

// Validate checks the request and rewrites its free-text fields to their
// sanitized form.
func (v *OrderValidator) Validate(req *models.CreateOrderRequest, now time.Time) error {
	req.Address = v.Sanitize(req.Address)
	req.Phone = v.Sanitize(req.Phone)
	req.Notes = v.Sanitize(req.Notes)
	req.PromoCode = strings.TrimSpace(req.PromoCode)
	for i := range req.Items {
		req.Items[i].Notes = v.Sanitize(req.Items[i].Notes)
	}

	if req.Type != models.TypeDelivery && req.Type != models.TypePickup {
		return fmt.Errorf("%w: unknown fulfillment type %q", ErrValidation, req.Type)
	}

	if req.Type == models.TypeDelivery {
		if len(req.Address) < MinAddressLen || len(req.Address) > MaxAddressLen {
			return fmt.Errorf("%w: delivery address length must be in range [%d, %d]", ErrValidation, MinAddressLen, MaxAddressLen)
		}
	}
	if len(req.Phone) > MaxPhoneLen {
		return fmt.Errorf("%w: phone length must not exceed %d", ErrValidation, MaxPhoneLen)
	}
	if len(req.Notes) > MaxNotesLen {
		return fmt.Errorf("%w: notes length must not exceed %d", ErrValidation, MaxNotesLen)
	}

	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	if len(req.Items) > MaxItems {
		return fmt.Errorf("%w: order must not contain more than %d items", ErrValidation, MaxItems)
	}
	for i, item := range req.Items {
		if item.MenuItemID <= 0 {
			return fmt.Errorf("%w: item %d: menu_item_id is required", ErrValidation, i+1)
		}
		if item.Quantity < 1 || item.Quantity > MaxQuantity {
			return fmt.Errorf("%w: item %d: quantity must be in range [1, %d]", ErrValidation, i+1, MaxQuantity)
		}
		if len(item.Notes) > MaxNotesLen {
			return fmt.Errorf("%w: item %d: notes length must not exceed %d", ErrValidation, i+1, MaxNotesLen)
		}
	}

	if req.ScheduledFor != nil && !req.ScheduledFor.After(now) {
		return fmt.Errorf("%w: scheduled_for must be in the future", ErrValidation)
	}

	return nil
}
