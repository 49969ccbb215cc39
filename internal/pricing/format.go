package pricing

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders amounts for display with locale specific grouping.
type Formatter struct {
	printer *message.Printer
	point   string
}

// NewFormatter builds a Formatter for the BCP 47 tag, falling back to English
// when the tag cannot be parsed.
func NewFormatter(tag string) *Formatter {
	lang, err := language.Parse(tag)
	if err != nil {
		lang = language.English
	}
	printer := message.NewPrinter(lang)
	point := strings.TrimFunc(printer.Sprint(number.Decimal(1.5, number.Scale(1))), unicode.IsDigit)
	if point == "" {
		point = "."
	}
	return &Formatter{printer: printer, point: point}
}

// Amount formats a monetary value with two decimals. The digits come from the
// exact decimal; the printer only supplies grouping, digits and the decimal
// point of the locale. Values whose integer part exceeds int64 are returned
// ungrouped.
func (f *Formatter) Amount(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	if f == nil || f.printer == nil {
		return fixed
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	sign := ""
	if strings.HasPrefix(whole, "-") {
		sign, whole = "-", whole[1:]
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fixed
	}
	c, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return fixed
	}
	return sign + f.printer.Sprint(number.Decimal(w)) + f.point +
		f.printer.Sprint(number.Decimal(c, number.MinIntegerDigits(2), number.NoSeparator()))
}

// DisplayTotals is the string form of OrderTotals handed to the UI and the
// export engine.
type DisplayTotals struct {
	Subtotal        string `json:"subtotal"`
	TaxTotal        string `json:"tax_total"`
	DeliveryCharges string `json:"delivery_charges"`
	RoundOff        string `json:"round_off"`
	GrandTotal      string `json:"grand_total"`
}

// Totals formats every field of t.
func (f *Formatter) Totals(t OrderTotals) DisplayTotals {
	return DisplayTotals{
		Subtotal:        f.Amount(t.Subtotal),
		TaxTotal:        f.Amount(t.TaxTotal),
		DeliveryCharges: f.Amount(t.DeliveryCharges),
		RoundOff:        f.Amount(t.RoundOff),
		GrandTotal:      f.Amount(t.GrandTotal),
	}
}
