package fulfillment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is set by an operator; it is not derived from the ledger.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPartial   PaymentStatus = "PARTIAL"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPartial, PaymentCompleted:
		return true
	default:
		return false
	}
}

var (
	// ErrOverpayment is returned by the reject policy.
	ErrOverpayment = errors.New("fulfillment: payment exceeds grand total")
	// ErrInvalidPayment indicates a non-positive payment amount or one with
	// fractions of the smallest currency unit.
	ErrInvalidPayment = errors.New("fulfillment: invalid payment amount")
	// ErrInvalidPaymentStatus indicates an unknown payment status.
	ErrInvalidPaymentStatus = errors.New("fulfillment: invalid payment status")
)

// PaymentLedger accumulates payments received for an order.
type PaymentLedger struct {
	Status          PaymentStatus   `json:"status"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	LastPaymentDate *time.Time      `json:"last_payment_date,omitempty"`
	Flagged         bool            `json:"overpayment_flagged"`
}

// NewPaymentLedger returns an empty ledger.
func NewPaymentLedger() PaymentLedger {
	return PaymentLedger{Status: PaymentPending, AmountPaid: decimal.Zero}
}

// Record adds a payment. The paid amount only ever grows; whether it may
// exceed grandTotal is decided by policy.
func (p PaymentLedger) Record(amount decimal.Decimal, at time.Time, grandTotal decimal.Decimal, policy OverpaymentPolicy) (PaymentLedger, error) {
	if !amount.IsPositive() {
		return p, fmt.Errorf("%w: %s must be positive", ErrInvalidPayment, amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return p, fmt.Errorf("%w: %s has more than 2 decimals", ErrInvalidPayment, amount.String())
	}
	if policy == nil {
		policy = AllowOverpayment{}
	}
	paid := p.AmountPaid.Add(amount)
	flag, err := policy.CheckPayment(paid, grandTotal)
	if err != nil {
		return p, err
	}
	stamp := at
	next := p
	next.AmountPaid = paid
	next.LastPaymentDate = &stamp
	next.Flagged = p.Flagged || flag
	return next, nil
}

// WithStatus returns the ledger with an operator supplied status.
func (p PaymentLedger) WithStatus(status PaymentStatus) (PaymentLedger, error) {
	if !status.IsValid() {
		return p, fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, status)
	}
	p.Status = status
	return p, nil
}

// OverpaymentPolicy decides what happens when paid exceeds total.
type OverpaymentPolicy interface {
	CheckPayment(paid, total decimal.Decimal) (flag bool, err error)
	Name() string
}

// AllowOverpayment accepts any total silently.
type AllowOverpayment struct{}

func (AllowOverpayment) CheckPayment(paid, total decimal.Decimal) (bool, error) {
	return false, nil
}

func (AllowOverpayment) Name() string {
	return "allow"
}

// FlagOverpayment accepts the payment but marks the ledger for review.
type FlagOverpayment struct{}

func (FlagOverpayment) CheckPayment(paid, total decimal.Decimal) (bool, error) {
	return paid.GreaterThan(total), nil
}

func (FlagOverpayment) Name() string {
	return "flag"
}

// RejectOverpayment refuses payments that push the total past the grand total.
type RejectOverpayment struct{}

func (RejectOverpayment) CheckPayment(paid, total decimal.Decimal) (bool, error) {
	if paid.GreaterThan(total) {
		return false, fmt.Errorf("%w: paid %s of %s", ErrOverpayment, paid.StringFixed(2), total.StringFixed(2))
	}
	return false, nil
}

func (RejectOverpayment) Name() string {
	return "reject"
}

// ParseOverpaymentPolicy resolves a configured policy name. Empty means allow.
func ParseOverpaymentPolicy(name string) (OverpaymentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "allow":
		return AllowOverpayment{}, nil
	case "flag":
		return FlagOverpayment{}, nil
	case "reject":
		return RejectOverpayment{}, nil
	default:
		return nil, fmt.Errorf("fulfillment: unknown overpayment policy %q", name)
	}
}
