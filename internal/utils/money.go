package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CoinCount converts a fiat amount into whole coins, rounding up so the
// customer never receives less value than they paid for.
func CoinCount(amount, coinValue decimal.Decimal) (int, error) {
	if !coinValue.IsPositive() {
		return 0, fmt.Errorf("coin value must be greater than zero")
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be greater than zero")
	}

	return int(amount.Div(coinValue).Ceil().IntPart()), nil
}

// Total is the amount the payer is charged: the requested amount plus the
// flat service fee.
func Total(amount, fee decimal.Decimal) decimal.Decimal {
	return amount.Add(fee)
}
