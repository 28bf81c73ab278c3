// Package validation содержит функции валидации входных данных.
package validation

import "github.com/shopspring/decimal"

// IsValidAmount проверяет денежную сумму: она должна быть положительной
// и иметь не более двух знаков после запятой.
func IsValidAmount(amount decimal.Decimal) bool {
	if amount.Cmp(decimal.Zero) <= 0 {
		return false
	}
	return amount.Exponent() >= -2
}

// IsValidRating проверяет оценку отзыва. Ноль допустим и означает отзыв без оценки.
func IsValidRating(rating int) bool {
	return rating >= 0 && rating <= 5
}
