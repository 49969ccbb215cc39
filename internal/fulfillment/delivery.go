// Package fulfillment derives delivery, shipping and payment state of
// quotation line items. Everything here is pure; persistence lives in the
// quotations package.
package fulfillment

import (
	"errors"
	"fmt"
	"time"
)

// LineStatus is the delivery state of one line.
type LineStatus string

const (
	LineStatusPending   LineStatus = "pending"
	LineStatusPartial   LineStatus = "partial"
	LineStatusDelivered LineStatus = "delivered"
)

// DeliveryStatus is the delivery state of a whole order.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryInProgress DeliveryStatus = "IN_PROGRESS"
	DeliveryCompleted  DeliveryStatus = "COMPLETED"
)

// ShippingStatus summarises shipped units against ordered units.
type ShippingStatus string

const (
	NotShipped       ShippingStatus = "NOT_SHIPPED"
	PartiallyShipped ShippingStatus = "PARTIALLY_SHIPPED"
	Shipped          ShippingStatus = "SHIPPED"
)

// ErrInvalidDelivery indicates a delivered quantity outside 0..ordered.
var ErrInvalidDelivery = errors.New("fulfillment: invalid delivered quantity")

// DeriveLineStatus maps quantities to a line status.
func DeriveLineStatus(delivered, ordered int64) LineStatus {
	switch {
	case delivered <= 0:
		return LineStatusPending
	case delivered < ordered:
		return LineStatusPartial
	default:
		return LineStatusDelivered
	}
}

// HistoryEntry is one immutable delivery event. Quantity is the cumulative
// delivered quantity after the event.
type HistoryEntry struct {
	Date     time.Time  `json:"date"`
	Status   LineStatus `json:"status"`
	Quantity int64      `json:"quantity"`
	Notes    string     `json:"notes,omitempty"`
}

// DeliveryRecord tracks delivery of one line.
type DeliveryRecord struct {
	DeliveredQty int64          `json:"delivered_quantity"`
	Status       LineStatus     `json:"status"`
	History      []HistoryEntry `json:"history"`
}

// NewDeliveryRecord returns the record of a line nothing has been delivered for.
func NewDeliveryRecord() DeliveryRecord {
	return DeliveryRecord{Status: LineStatusPending, History: []HistoryEntry{}}
}

// Record sets the cumulative delivered quantity and appends exactly one
// history entry. Existing entries are never modified.
func (r DeliveryRecord) Record(ordered, delivered int64, notes string, at time.Time) (DeliveryRecord, HistoryEntry, error) {
	if delivered < 0 || delivered > ordered {
		return r, HistoryEntry{}, fmt.Errorf("%w: %d of %d", ErrInvalidDelivery, delivered, ordered)
	}
	status := DeriveLineStatus(delivered, ordered)
	entry := HistoryEntry{Date: at, Status: status, Quantity: delivered, Notes: notes}
	history := make([]HistoryEntry, len(r.History), len(r.History)+1)
	copy(history, r.History)
	return DeliveryRecord{
		DeliveredQty: delivered,
		Status:       status,
		History:      append(history, entry),
	}, entry, nil
}

// LineProgress is the minimal view of a line needed for order level state.
type LineProgress struct {
	Ordered   int64
	Delivered int64
}

// AggregateDelivery derives the order delivery status. An order without
// lines is pending.
func AggregateDelivery(lines []LineProgress) DeliveryStatus {
	if len(lines) == 0 {
		return DeliveryPending
	}
	allDelivered := true
	anyProgress := false
	for _, l := range lines {
		switch DeriveLineStatus(l.Delivered, l.Ordered) {
		case LineStatusDelivered:
			anyProgress = true
		case LineStatusPartial:
			anyProgress = true
			allDelivered = false
		default:
			allDelivered = false
		}
	}
	switch {
	case allDelivered:
		return DeliveryCompleted
	case anyProgress:
		return DeliveryInProgress
	default:
		return DeliveryPending
	}
}

// DeriveShipping compares delivered units with ordered units.
func DeriveShipping(lines []LineProgress) ShippingStatus {
	var ordered, delivered int64
	for _, l := range lines {
		ordered += l.Ordered
		delivered += l.Delivered
	}
	switch {
	case delivered <= 0:
		return NotShipped
	case delivered < ordered:
		return PartiallyShipped
	default:
		return Shipped
	}
}
