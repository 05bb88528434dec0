// Package money implements the Money value type shared by the domain
// model. Amounts are normalized to two decimal places and tracked in
// whole minor units (cents) internally, so repeated arithmetic never
// accumulates floating-point drift.
package money

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/plm/payment-orchestrator/errs"
)

// Currency is a three-letter ISO 4217 code.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	INR Currency = "INR"
)

var knownCurrencies = map[Currency]bool{USD: true, EUR: true, GBP: true, INR: true}

// ValidCurrency reports whether c is a recognized currency code.
func ValidCurrency(c Currency) bool {
	return knownCurrencies[c]
}

// Money is an immutable (amount, currency) pair. Amount is stored as
// minor units (cents) so arithmetic never drifts; String/Float64
// present the normalized two-decimal value.
type Money struct {
	minor    int64
	currency Currency
}

// New constructs a Money from a decimal value, rejecting negative or
// non-finite amounts.
func New(amount float64, currency Currency) (Money, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Money{}, errs.New(errs.KindValidation, "amount must be finite")
	}
	if amount < 0 {
		return Money{}, errs.New(errs.KindValidation, "amount must be non-negative")
	}
	if !ValidCurrency(currency) {
		return Money{}, errs.New(errs.KindValidation, fmt.Sprintf("unrecognized currency %q", currency))
	}
	return Money{minor: int64(math.Round(amount * 100)), currency: currency}, nil
}

// FromMinor constructs a Money directly from minor units (cents).
func FromMinor(minor int64, currency Currency) Money {
	return Money{minor: minor, currency: currency}
}

func (m Money) Minor() int64       { return m.minor }
func (m Money) Currency() Currency { return m.currency }
func (m Money) Float64() float64   { return float64(m.minor) / 100 }
func (m Money) IsZero() bool       { return m.minor == 0 }

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Float64(), m.currency)
}

// Add returns m+other, rejecting cross-currency arithmetic.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errs.New(errs.KindValidation, "cannot add different currencies")
	}
	return Money{minor: m.minor + other.minor, currency: m.currency}, nil
}

// Sub returns m-other, rejecting cross-currency arithmetic.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errs.New(errs.KindValidation, "cannot subtract different currencies")
	}
	return Money{minor: m.minor - other.minor, currency: m.currency}, nil
}

// MulPercent returns m scaled by pct (e.g. 0.015 for 1.5%), rounded to
// the nearest minor unit.
func (m Money) MulPercent(pct float64) Money {
	return Money{minor: int64(math.Round(float64(m.minor) * pct)), currency: m.currency}
}

// Equal reports value equality, including currency.
func (m Money) Equal(other Money) bool {
	return m.minor == other.minor && m.currency == other.currency
}

// MarshalJSON renders Money as {"amount": 100.00, "currency": "USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"amount":%.2f,"currency":%q}`, m.Float64(), m.currency)), nil
}

// jsonShape mirrors MarshalJSON's wire shape for UnmarshalJSON.
type jsonShape struct {
	Amount   float64  `json:"amount"`
	Currency Currency `json:"currency"`
}

// UnmarshalJSON parses the {"amount":..,"currency":..} wire shape.
func (m *Money) UnmarshalJSON(data []byte) error {
	var shape jsonShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	v, err := New(shape.Amount, shape.Currency)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
