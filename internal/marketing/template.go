package marketing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Template variables available in notification titles and messages.
const (
	VarFirstName   = "{{first_name}}"
	VarUserID      = "{{user_id}}"
	VarTriggerName = "{{trigger_name}}"
	VarCouponID    = "{{coupon_id}}"
	VarCouponValue = "{{coupon_value}}"
	VarPoints      = "{{points}}"
)

// renderTemplate substitutes variables; unknown placeholders are left as is.
func renderTemplate(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Formatter renders amounts for customer-facing messages in one locale.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewFormatter builds a formatter for a BCP 47 language tag and an ISO 4217 currency code.
func NewFormatter(lang, currencyCode string) (*Formatter, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("invalid language %q: %w", lang, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", currencyCode, err)
	}
	return &Formatter{printer: message.NewPrinter(tag), unit: unit}, nil
}

// DefaultFormatter formats English amounts in US dollars.
func DefaultFormatter() *Formatter {
	return &Formatter{printer: message.NewPrinter(language.English), unit: currency.USD}
}

// Money formats a monetary amount with the currency symbol.
func (f *Formatter) Money(amount decimal.Decimal) string {
	v, _ := amount.Round(2).Float64()
	symbol := f.printer.Sprint(currency.Symbol(f.unit))
	return symbol + f.printer.Sprint(number.Decimal(v, number.Scale(2)))
}

// Number formats an integer with locale digit grouping.
func (f *Formatter) Number(n int64) string {
	return f.printer.Sprintf("%d", n)
}
