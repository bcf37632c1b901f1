package model

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// MoneyFromCents переводит сумму в копейках в десятичное значение.
func MoneyFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ToCents переводит сумму в копейки. Суммы с точностью больше двух знаков
// и суммы, не помещающиеся в int64 копеек, отклоняются.
func ToCents(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Round(2)) {
		return 0, ErrInvalidAmount
	}
	cents := amount.Shift(2)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// RewardCents переводит вознаграждение в копейки; вознаграждение должно быть положительным.
func RewardCents(reward decimal.Decimal) (int64, error) {
	cents, err := ToCents(reward)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}
