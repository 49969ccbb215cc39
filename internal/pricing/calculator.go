// Package pricing computes line and document totals for invoices and quotations.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidLineItem indicates a line with a quantity, price, discount or tax
// rate outside the accepted range or with more decimals than are stored.
var ErrInvalidLineItem = errors.New("pricing: invalid line item")

const (
	// MaxQuantity bounds a single line quantity.
	MaxQuantity int64 = 1_000_000_000
	// PriceScale is the number of decimals kept for unit prices and rates.
	PriceScale int32 = 4
	// MoneyScale is the number of decimals kept for charges and payments.
	MoneyScale int32 = 2
)

var (
	hundred = decimal.NewFromInt(100)
	// MaxUnitPrice bounds unit prices and delivery charges.
	MaxUnitPrice = decimal.New(1, 8)
	// MaxTaxRatePercent bounds tax rates.
	MaxTaxRatePercent = decimal.NewFromInt(1000)
)

// HasScale reports whether d has no more than scale decimal places.
func HasScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Round(scale))
}

// LineItem is the operator supplied part of an invoice or quotation line.
type LineItem struct {
	ItemRef         string          `json:"item_ref" validate:"required,max=64"`
	Quantity        int64           `json:"quantity" validate:"gt=0,lte=1000000000"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TaxRatePercent  decimal.Decimal `json:"tax_rate_percent"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// LineBreakdown holds the derived monetary values of one line.
type LineBreakdown struct {
	Amount        decimal.Decimal `json:"amount"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	TaxValue      decimal.Decimal `json:"tax_value"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

// Net returns the post-discount, pre-tax value of the line.
func (b LineBreakdown) Net() decimal.Decimal {
	return b.Amount.Sub(b.DiscountValue)
}

// OrderTotals aggregates the breakdowns of a document.
type OrderTotals struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	DeliveryCharges decimal.Decimal `json:"delivery_charges"`
	RoundOff        decimal.Decimal `json:"round_off"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
}

// Validate checks the line against the accepted ranges.
func Validate(item LineItem) error {
	if item.ItemRef == "" {
		return fmt.Errorf("%w: item reference required", ErrInvalidLineItem)
	}
	if err := validateQuantity(item.Quantity); err != nil {
		return fmt.Errorf("%w for item %q", err, item.ItemRef)
	}
	return validateRates(item.UnitPrice, item.DiscountPercent, item.TaxRatePercent)
}

func validateQuantity(qty int64) error {
	if qty <= 0 || qty > MaxQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidLineItem, MaxQuantity)
	}
	return nil
}

func validateRates(unitPrice, discountPercent, taxRatePercent decimal.Decimal) error {
	if unitPrice.IsNegative() || unitPrice.GreaterThan(MaxUnitPrice) {
		return fmt.Errorf("%w: unit price must be between 0 and %s", ErrInvalidLineItem, MaxUnitPrice)
	}
	if !HasScale(unitPrice, PriceScale) {
		return fmt.Errorf("%w: unit price allows at most %d decimals", ErrInvalidLineItem, PriceScale)
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount percent must be between 0 and 100", ErrInvalidLineItem)
	}
	if !HasScale(discountPercent, PriceScale) {
		return fmt.Errorf("%w: discount percent allows at most %d decimals", ErrInvalidLineItem, PriceScale)
	}
	if taxRatePercent.IsNegative() || taxRatePercent.GreaterThan(MaxTaxRatePercent) {
		return fmt.Errorf("%w: tax rate percent must be between 0 and %s", ErrInvalidLineItem, MaxTaxRatePercent)
	}
	if !HasScale(taxRatePercent, PriceScale) {
		return fmt.Errorf("%w: tax rate percent allows at most %d decimals", ErrInvalidLineItem, PriceScale)
	}
	return nil
}

// ComputeLine derives the breakdown of a single line. Discount is applied
// before tax and every intermediate value is rounded to two places, so the
// order of the steps matters.
func ComputeLine(qty int64, unitPrice, discountPercent, taxRatePercent decimal.Decimal) (LineBreakdown, error) {
	if err := validateQuantity(qty); err != nil {
		return LineBreakdown{}, err
	}
	if err := validateRates(unitPrice, discountPercent, taxRatePercent); err != nil {
		return LineBreakdown{}, err
	}
	amount := unitPrice.Mul(decimal.NewFromInt(qty))
	discountValue := amount.Mul(discountPercent).Div(hundred).Round(2)
	afterDiscount := amount.Sub(discountValue)
	taxValue := afterDiscount.Mul(taxRatePercent).Div(hundred).Round(2)
	return LineBreakdown{
		Amount:        amount,
		DiscountValue: discountValue,
		TaxValue:      taxValue,
		LineTotal:     afterDiscount.Add(taxValue).Round(2),
	}, nil
}

// ComputeOrderTotals aggregates line breakdowns. The grand total is rounded to
// the nearest whole unit and the difference is reported as round-off.
func ComputeOrderTotals(lines []LineBreakdown, deliveryCharges decimal.Decimal) OrderTotals {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Net())
		taxTotal = taxTotal.Add(line.TaxValue)
	}
	raw := subtotal.Add(taxTotal).Add(deliveryCharges)
	grandTotal := raw.Round(0)
	return OrderTotals{
		Subtotal:        subtotal,
		TaxTotal:        taxTotal,
		DeliveryCharges: deliveryCharges,
		RoundOff:        grandTotal.Sub(raw),
		GrandTotal:      grandTotal,
	}
}

// ComputeDocument validates every item and returns the per-line breakdowns in
// input order together with the document totals.
func ComputeDocument(items []LineItem, deliveryCharges decimal.Decimal) ([]LineBreakdown, OrderTotals, error) {
	if deliveryCharges.IsNegative() || deliveryCharges.GreaterThan(MaxUnitPrice) {
		return nil, OrderTotals{}, fmt.Errorf("%w: delivery charges must be between 0 and %s", ErrInvalidLineItem, MaxUnitPrice)
	}
	if !HasScale(deliveryCharges, MoneyScale) {
		return nil, OrderTotals{}, fmt.Errorf("%w: delivery charges allow at most %d decimals", ErrInvalidLineItem, MoneyScale)
	}
	breakdowns := make([]LineBreakdown, 0, len(items))
	for i, item := range items {
		if err := Validate(item); err != nil {
			return nil, OrderTotals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		b, err := ComputeLine(item.Quantity, item.UnitPrice, item.DiscountPercent, item.TaxRatePercent)
		if err != nil {
			return nil, OrderTotals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		breakdowns = append(breakdowns, b)
	}
	return breakdowns, ComputeOrderTotals(breakdowns, deliveryCharges), nil
}
