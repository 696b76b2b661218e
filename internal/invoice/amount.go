package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value kept in the textual form it was produced in.
// Amounts read from a JSON number are written back as a number, all others as a string.
type Amount struct {
	value  string
	number bool
}

// NewAmount returns a string-encoded amount
func NewAmount(value string) *Amount {
	return &Amount{value: value}
}

// NumberAmount returns an amount that serializes as a JSON number literal.
func NumberAmount(literal string) *Amount {
	return &Amount{value: literal, number: true}
}

func (a Amount) String() string {
	return a.value
}

// IsNumber reports whether the amount was encoded as a JSON number
func (a Amount) IsNumber() bool {
	return a.number
}

// Decimal parses the amount.
func (a Amount) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(a.value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", a.value, err)
	}
	return d, nil
}

// ValidateAmounts checks that subtotal, tax and total, when present, parse as
// non-negative decimals.
func (r Record) ValidateAmounts() error {
	amounts := []struct {
		key    string
		amount *Amount
	}{
		{KeySubtotal, r.Subtotal},
		{KeyTax, r.Tax},
		{KeyTotal, r.Total},
	}
	for _, f := range amounts {
		if f.amount == nil {
			continue
		}
		d, err := f.amount.Decimal()
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s: negative amount %q", f.key, f.amount.value)
		}
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.number {
		if !json.Valid([]byte(a.value)) {
			return nil, fmt.Errorf("invalid number literal %q", a.value)
		}
		return []byte(a.value), nil
	}
	return json.Marshal(a.value)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch kind(data) {
	case kindString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount{value: s}
		return nil
	case kindScalar:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected number or string, got %s", string(data))
		}
		*a = Amount{value: string(data), number: true}
		return nil
	default:
		return fmt.Errorf("expected number or string, got %s", string(data))
	}
}
