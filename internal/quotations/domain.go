// Package quotations persists quotations and tracks their delivery and
// payment progress. Quotations never move stock.
package quotations

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gauravitis/crm-sub001/internal/fulfillment"
	"github.com/gauravitis/crm-sub001/internal/pricing"
)

var (
	// ErrNotFound indicates the quotation does not exist.
	ErrNotFound = errors.New("quotations: not found")
	// ErrLineNotFound indicates the quotation has no line with that number.
	ErrLineNotFound = errors.New("quotations: line not found")
)

// Line is a quoted item together with its delivery progress.
type Line struct {
	LineNo int `json:"line_no"`
	pricing.LineItem
	pricing.LineBreakdown
	Delivery fulfillment.DeliveryRecord `json:"delivery"`
}

// Quotation is the persisted quotation. Fulfillment is derived on read.
type Quotation struct {
	ID           uuid.UUID                    `json:"id"`
	Number       string                       `json:"number"`
	CustomerName string                       `json:"customer_name"`
	Notes        string                       `json:"notes"`
	Lines        []Line                       `json:"lines"`
	Totals       pricing.OrderTotals          `json:"totals"`
	Payment      fulfillment.PaymentLedger    `json:"payment"`
	Fulfillment  fulfillment.OrderFulfillment `json:"fulfillment"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Progress returns the per-line quantities used to derive order state.
func (q Quotation) Progress() []fulfillment.LineProgress {
	out := make([]fulfillment.LineProgress, 0, len(q.Lines))
	for _, l := range q.Lines {
		out = append(out, fulfillment.LineProgress{Ordered: l.Quantity, Delivered: l.Delivery.DeliveredQty})
	}
	return out
}

// derive fills the fulfillment summary from lines and payment.
func (q Quotation) derive() Quotation {
	q.Fulfillment = fulfillment.Summarize(q.Progress(), q.Payment)
	return q
}

func (q Quotation) line(lineNo int) (int, bool) {
	for i, l := range q.Lines {
		if l.LineNo == lineNo {
			return i, true
		}
	}
	return 0, false
}

// CreateInput is the operator supplied content of a quotation.
type CreateInput struct {
	CustomerName    string
	Notes           string
	Items           []pricing.LineItem
	DeliveryCharges decimal.Decimal
}

// Payment is one received payment.
type Payment struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt time.Time       `json:"paid_at"`
	Note   string          `json:"note,omitempty"`
}

// DeliveryUpdate sets the cumulative delivered quantity of one line.
type DeliveryUpdate struct {
	LineNo       int
	DeliveredQty int64
	Notes        string
}
