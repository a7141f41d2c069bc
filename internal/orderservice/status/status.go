package status

import (
	"errors"
	"fmt"
	"time"

	"tavolino/pkg/models"
)

// Order statuses.
const (
	Pending        = "pending"
	Confirmed      = "confirmed"
	Preparing      = "preparing"
	Ready          = "ready"
	OutForDelivery = "out_for_delivery"
	Delivered      = "delivered"
	Cancelled      = "cancelled"
)

var (
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrTerminalStatus = errors.New("order is in a terminal status")
)

// timestampColumns maps each status to the column stamped when it is reached.
// out_for_delivery intentionally has no column; it is tracked through
// status and updated_at only.
var timestampColumns = map[string]string{
	Confirmed: "confirmed_at",
	Preparing: "preparing_at",
	Ready:     "ready_at",
	Delivered: "delivered_at",
	Cancelled: "cancelled_at",
}

var recognized = map[string]bool{
	Pending:        true,
	Confirmed:      true,
	Preparing:      true,
	Ready:          true,
	OutForDelivery: true,
	Delivered:      true,
	Cancelled:      true,
}

// IsTerminal reports whether no further transition may leave the status.
func IsTerminal(s string) bool {
	return s == Delivered || s == Cancelled
}

// Validate checks that the order may move to newStatus and returns the
// timestamp column to stamp (empty for statuses without one). The order is
// not modified.
func Validate(order *models.Order, newStatus string) (string, error) {
	if !recognized[newStatus] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	if IsTerminal(order.Status) {
		return "", fmt.Errorf("%w: cannot leave %q", ErrTerminalStatus, order.Status)
	}
	if newStatus == OutForDelivery && order.Type != models.TypeDelivery {
		return "", fmt.Errorf("%w: %q requires a delivery order", ErrInvalidStatus, newStatus)
	}
	return timestampColumns[newStatus], nil
}

// Apply validates the transition and mutates the order in place: status, the
// matching timestamp column and updated_at. Returns the stamped column name.
func Apply(order *models.Order, newStatus string, now time.Time) (string, error) {
	column, err := Validate(order, newStatus)
	if err != nil {
		return "", err
	}

	order.Status = newStatus
	order.UpdatedAt = now

	switch newStatus {
	case Confirmed:
		order.ConfirmedAt = &now
	case Preparing:
		order.PreparingAt = &now
	case Ready:
		order.ReadyAt = &now
	case Delivered:
		order.DeliveredAt = &now
	case Cancelled:
		order.CancelledAt = &now
	}

	return column, nil
}
