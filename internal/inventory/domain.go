package inventory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Direction tells the ledger whether quantities are added or removed.
type Direction string

const (
	// DirectionCredit adds stock, e.g. a purchase invoice.
	DirectionCredit Direction = "CREDIT"
	// DirectionDebit removes stock, e.g. a sales invoice.
	DirectionDebit Direction = "DEBIT"
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Invert returns the opposite direction.
func (d Direction) Invert() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

func (d Direction) sign() int64 {
	if d == DirectionDebit {
		return -1
	}
	return 1
}

// Line is a positive quantity of one item.
type Line struct {
	ItemRef  string `json:"item_ref"`
	Quantity int64  `json:"quantity"`
}

// Adjustment is a signed change of one item's on-hand quantity.
type Adjustment struct {
	ItemRef string `json:"item_ref"`
	Delta   int64  `json:"delta"`
}

// Reference ties a batch to the business record that caused it.
type Reference struct {
	Module string
	ID     string
	Note   string
}

// Item is a stocked product. OnHand is only ever changed by the Ledger.
type Item struct {
	Ref       string    `json:"item_ref"`
	Name      string    `json:"name"`
	OnHand    int64     `json:"on_hand_quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement is one stock card entry written by a batch.
type Movement struct {
	ID         int64     `json:"id"`
	BatchID    uuid.UUID `json:"batch_id"`
	ItemRef    string    `json:"item_ref"`
	Delta      int64     `json:"delta"`
	BalanceQty int64     `json:"balance_qty"`
	RefModule  string    `json:"ref_module"`
	RefID      string    `json:"ref_id"`
	Note       string    `json:"note"`
	PostedAt   time.Time `json:"posted_at"`
}

// Batch is the committed result of one ledger call.
type Batch struct {
	ID        uuid.UUID  `json:"id"`
	Movements []Movement `json:"movements"`
	PostedAt  time.Time  `json:"posted_at"`
}

// Inverse returns the adjustments that undo the batch.
func (b Batch) Inverse() []Adjustment {
	out := make([]Adjustment, 0, len(b.Movements))
	for _, m := range b.Movements {
		out = append(out, Adjustment{ItemRef: m.ItemRef, Delta: -m.Delta})
	}
	return out
}

// NewItemInput registers an item with its opening quantity.
type NewItemInput struct {
	Ref        string
	Name       string
	OpeningQty int64
}

// StockCardFilter narrows the movement history of one item.
type StockCardFilter struct {
	ItemRef string
	From    time.Time
	To      time.Time
	Limit   int
}

var (
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrItemNotFound matches every *ItemNotFoundError.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrInvalidQuantity indicates a non-positive line quantity or a negative opening quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidDirection indicates an unknown direction.
	ErrInvalidDirection = errors.New("inventory: invalid direction")
	// ErrItemExists indicates a duplicate item reference.
	ErrItemExists = errors.New("inventory: item already exists")
)

// InsufficientStockError reports the item whose quantity would go negative.
type InsufficientStockError struct {
	ItemRef   string
	OnHand    int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s (on hand %d, requested %d)", e.ItemRef, e.OnHand, e.Requested)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ItemNotFoundError reports an unknown item reference.
type ItemNotFoundError struct {
	ItemRef string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("inventory: item %s not found", e.ItemRef)
}

// Is matches ErrItemNotFound.
func (e *ItemNotFoundError) Is(target error) bool {
	return target == ErrItemNotFound
}

// Effect converts lines moving in dir into signed adjustments.
func Effect(lines []Line, dir Direction) []Adjustment {
	out := make([]Adjustment, 0, len(lines))
	for _, line := range lines {
		out = append(out, Adjustment{ItemRef: line.ItemRef, Delta: dir.sign() * line.Quantity})
	}
	return out
}

// NetDelta returns the adjustments that turn the effect of the old lines into
// the effect of the new ones. Items whose effect is unchanged are omitted.
func NetDelta(oldLines []Line, oldDir Direction, newLines []Line, newDir Direction) ([]Adjustment, error) {
	adjs := Effect(newLines, newDir)
	for _, a := range Effect(oldLines, oldDir) {
		adjs = append(adjs, Adjustment{ItemRef: a.ItemRef, Delta: -a.Delta})
	}
	return consolidate(adjs)
}

// consolidate sums deltas per item, drops zero totals and orders by item
// reference so row locks are always taken in the same order. A sum that does
// not fit in int64 fails with ErrInvalidQuantity.
func consolidate(adjs []Adjustment) ([]Adjustment, error) {
	totals := make(map[string]int64, len(adjs))
	for _, a := range adjs {
		sum, ok := addQuantity(totals[a.ItemRef], a.Delta)
		if !ok || sum == math.MinInt64 {
			return nil, fmt.Errorf("%w: quantity overflow for item %s", ErrInvalidQuantity, a.ItemRef)
		}
		totals[a.ItemRef] = sum
	}
	out := make([]Adjustment, 0, len(totals))
	for ref, delta := range totals {
		if delta == 0 {
			continue
		}
		out = append(out, Adjustment{ItemRef: ref, Delta: delta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemRef < out[j].ItemRef })
	return out, nil
}

// addQuantity adds two quantities and reports false on int64 overflow.
func addQuantity(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
