// Package documents manages sales and purchase invoices and keeps their stock
// effect consistent with the inventory ledger.
package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gauravitis/crm-sub001/internal/inventory"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/sequence"
)

// Kind distinguishes incoming from outgoing invoices.
type Kind string

const (
	// KindSales removes stock.
	KindSales Kind = "SALES"
	// KindPurchase adds stock.
	KindPurchase Kind = "PURCHASE"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k == KindSales || k == KindPurchase
}

// Direction returns the ledger direction applied when the document is created.
func (k Kind) Direction() inventory.Direction {
	if k == KindPurchase {
		return inventory.DirectionCredit
	}
	return inventory.DirectionDebit
}

// DocType returns the numbering stream of the kind.
func (k Kind) DocType() sequence.DocType {
	if k == KindPurchase {
		return sequence.DocTypePurchaseInvoice
	}
	return sequence.DocTypeSalesInvoice
}

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("documents: not found")
	// ErrDocumentLocked indicates a concurrent mutation holds the document.
	ErrDocumentLocked = errors.New("documents: document is being modified")
	// ErrInvalidKind indicates an unknown document kind.
	ErrInvalidKind = errors.New("documents: invalid kind")
	// ErrDeleteRefused indicates the stock effect could not be reversed, so
	// the document was kept.
	ErrDeleteRefused = errors.New("documents: delete refused")
	// ErrPartialReversal indicates stock moved but the compensating batch
	// failed; the ledger and the documents disagree until reconciled.
	ErrPartialReversal = errors.New("documents: reconciliation required")
)

// ReconciliationError carries the batch that could not be compensated.
type ReconciliationError struct {
	Action          string
	DocumentID      uuid.UUID
	BatchID         uuid.UUID
	Cause           error
	CompensationErr error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("documents: %s of %s failed (%v) and batch %s could not be reversed: %v",
		e.Action, e.DocumentID, e.Cause, e.BatchID, e.CompensationErr)
}

// Is matches ErrPartialReversal.
func (e *ReconciliationError) Is(target error) bool {
	return target == ErrPartialReversal
}

// Unwrap exposes both the original failure and the compensation failure.
func (e *ReconciliationError) Unwrap() []error {
	return []error{e.Cause, e.CompensationErr}
}

// Line is one invoice row with its computed values.
type Line struct {
	LineNo int `json:"line_no"`
	pricing.LineItem
	pricing.LineBreakdown
}

// Document is a persisted invoice. Totals are always recomputed from the
// lines and never accepted from the caller.
type Document struct {
	ID        uuid.UUID           `json:"id"`
	Kind      Kind                `json:"kind"`
	Number    string              `json:"number"`
	PartyName string              `json:"party_name"`
	Notes     string              `json:"notes"`
	Lines     []Line              `json:"lines"`
	Totals    pricing.OrderTotals `json:"totals"`
	SentAt    *time.Time          `json:"sent_at,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StockLines returns the quantities the document moves.
func (d Document) StockLines() []inventory.Line {
	out := make([]inventory.Line, 0, len(d.Lines))
	for _, l := range d.Lines {
		out = append(out, inventory.Line{ItemRef: l.ItemRef, Quantity: l.Quantity})
	}
	return out
}

// Input is the operator supplied content of a document.
type Input struct {
	Kind            Kind
	PartyName       string
	Notes           string
	Items           []pricing.LineItem
	DeliveryCharges decimal.Decimal
}

// ListFilter narrows List results. An empty Kind lists both kinds.
type ListFilter struct {
	Kind   Kind
	Limit  int
	Offset int
}

// Notification is handed to the notifier when a document is marked sent.
type Notification struct {
	DocumentID uuid.UUID
	Number     string
	Kind       Kind
	PartyName  string
	Recipient  string
	GrandTotal decimal.Decimal
}

func build(in Input) ([]Line, pricing.OrderTotals, error) {
	if !in.Kind.IsValid() {
		return nil, pricing.OrderTotals{}, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	if len(in.Items) == 0 {
		return nil, pricing.OrderTotals{}, fmt.Errorf("%w: at least one line required", pricing.ErrInvalidLineItem)
	}
	breakdowns, totals, err := pricing.ComputeDocument(in.Items, in.DeliveryCharges)
	if err != nil {
		return nil, pricing.OrderTotals{}, err
	}
	lines := make([]Line, len(in.Items))
	for i, item := range in.Items {
		lines[i] = Line{LineNo: i + 1, LineItem: item, LineBreakdown: breakdowns[i]}
	}
	return lines, totals, nil
}

func stockLines(items []pricing.LineItem) []inventory.Line {
	out := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		out = append(out, inventory.Line{ItemRef: item.ItemRef, Quantity: item.Quantity})
	}
	return out
}
