package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// wei precision, anything finer cannot be paid out
const DestinationDecimals = 18

// Rate is a fixed exchange rate kept as a fraction so that 100/1200 stays exact.
type Rate struct {
	Numerator   decimal.Decimal
	Denominator decimal.Decimal
}

func NewRate(numerator, denominator string) (Rate, error) {
	num, err := decimal.NewFromString(numerator)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate numerator %q: %w", numerator, err)
	}
	den, err := decimal.NewFromString(denominator)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate denominator %q: %w", denominator, err)
	}
	if !num.IsPositive() || !den.IsPositive() {
		return Rate{}, errors.New("exchange rate must be positive")
	}
	return Rate{Numerator: num, Denominator: den}, nil
}

// Convert returns amount * numerator / denominator rounded to 18 decimal places.
func (r Rate) Convert(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.Numerator).DivRound(r.Denominator, DestinationDecimals)
}

func (r Rate) String() string {
	return r.Numerator.String() + "/" + r.Denominator.String()
}

// ToWei converts a destination chain amount to its integer base unit.
func ToWei(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(DestinationDecimals).Truncate(0)
}

func FromWei(wei decimal.Decimal) decimal.Decimal {
	return wei.Shift(-DestinationDecimals)
}
