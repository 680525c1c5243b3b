package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
)

// DecimalScale returns the number of minor-unit digits for the currency.
func (c Currency) DecimalScale() int32 {
	switch c {
	case CurrencyJPY:
		return 0
	default:
		return 2
	}
}

// Amount is a currency-tagged decimal money value.
type Amount struct {
	Currency Currency        `json:"currency" db:"currency"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
}

// NewAmount builds an Amount rounded to the currency scale.
func NewAmount(currency Currency, amount decimal.Decimal) Amount {
	return Amount{Currency: currency, Amount: amount.Round(currency.DecimalScale())}
}

// AmountOf is a convenience for whole-unit amounts, e.g. AmountOf(CurrencyUSD, 100) = $100.00.
func AmountOf(currency Currency, amount int64) Amount {
	return NewAmount(currency, decimal.NewFromInt(amount))
}

// ZeroAmount returns a zero value in the currency.
func ZeroAmount(currency Currency) Amount {
	return Amount{Currency: currency, Amount: decimal.Zero}
}

// Add panics on currency mismatch.
func (a Amount) Add(other Amount) Amount {
	a.assertSameCurrency(other)
	return NewAmount(a.Currency, a.Amount.Add(other.Amount))
}

// Sub panics on currency mismatch.
func (a Amount) Sub(other Amount) Amount {
	a.assertSameCurrency(other)
	return NewAmount(a.Currency, a.Amount.Sub(other.Amount))
}

func (a Amount) Negate() Amount {
	return Amount{Currency: a.Currency, Amount: a.Amount.Neg()}
}

func (a Amount) Abs() Amount {
	return Amount{Currency: a.Currency, Amount: a.Amount.Abs()}
}

// Min returns the smaller of the two amounts.
func (a Amount) Min(other Amount) Amount {
	a.assertSameCurrency(other)
	if a.Amount.LessThan(other.Amount) {
		return a
	}
	return other
}

func (a Amount) IsZero() bool     { return a.Amount.IsZero() }
func (a Amount) IsNegative() bool { return a.Amount.IsNegative() }
func (a Amount) IsPositive() bool { return a.Amount.IsPositive() }

func (a Amount) IsGreaterThanOrEqualZero() bool { return !a.Amount.IsNegative() }

func (a Amount) IsLessThan(other Amount) bool {
	return a.Amount.LessThan(other.Amount)
}

func (a Amount) IsGreaterThan(other Amount) bool {
	return a.Amount.GreaterThan(other.Amount)
}

func (a Amount) Equal(other Amount) bool {
	return a.Currency == other.Currency && a.Amount.Equal(other.Amount)
}

// EnsureNonNegative returns ErrInvalidAmount if the amount is below zero.
func (a Amount) EnsureNonNegative() error {
	if a.Amount.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidAmount, a)
	}
	return nil
}

// EnsurePositive returns ErrInvalidAmount unless the amount is above zero.
func (a Amount) EnsurePositive() error {
	if !a.Amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, a)
	}
	return nil
}

// EnsureNegative returns ErrInvalidAmount unless the amount is below zero.
func (a Amount) EnsureNegative() error {
	if !a.Amount.IsNegative() {
		return fmt.Errorf("%w: %s must be negative", ErrInvalidAmount, a)
	}
	return nil
}

func (a Amount) String() string {
	return a.Amount.StringFixed(a.Currency.DecimalScale()) + string(a.Currency)
}

func (a Amount) assertSameCurrency(other Amount) {
	if a.Currency != other.Currency {
		panic(fmt.Sprintf("amount: currency mismatch: %s != %s", a.Currency, other.Currency))
	}
}

// SumAmounts adds the amounts starting from zero in the given currency.
func SumAmounts(currency Currency, amounts ...Amount) Amount {
	total := ZeroAmount(currency)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
