// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/mmeshcher/adrewards/internal/model"
)

const (
	minCardDigits    = 12
	maxCardDigits    = 19
	minAccountDigits = 6
	maxAccountDigits = 34
)

// IsValidCardNumber проверяет номер карты по алгоритму Луна.
func IsValidCardNumber(number string) bool {
	number = normalizeNumber(number)
	if len(number) < minCardDigits || len(number) > maxCardDigits {
		return false
	}
	return luhn(number)
}

func luhn(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// ValidatePaymentDetails нормализует и проверяет реквизиты выплаты.
func ValidatePaymentDetails(d model.PaymentDetails) (model.PaymentDetails, error) {
	d.HolderName = strings.TrimSpace(d.HolderName)
	d.BankName = strings.TrimSpace(d.BankName)
	d.AccountNumber = normalizeNumber(d.AccountNumber)

	if d.HolderName == "" {
		return d, model.ErrInvalidPaymentDetails
	}

	switch d.Method {
	case model.PaymentMethodCard:
		if !IsValidCardNumber(d.AccountNumber) {
			return d, model.ErrInvalidPaymentDetails
		}
		d.BankName = ""
	case model.PaymentMethodBank:
		if d.BankName == "" {
			return d, model.ErrInvalidPaymentDetails
		}
		if len(d.AccountNumber) < minAccountDigits || len(d.AccountNumber) > maxAccountDigits {
			return d, model.ErrInvalidPaymentDetails
		}
		for i := 0; i < len(d.AccountNumber); i++ {
			ch := d.AccountNumber[i]
			if (ch < '0' || ch > '9') && (ch < 'A' || ch > 'Z') {
				return d, model.ErrInvalidPaymentDetails
			}
		}
	default:
		return d, model.ErrInvalidPaymentDetails
	}

	return d, nil
}

// normalizeNumber убирает пробелы и дефисы, которыми пользователи разделяют группы цифр.
func normalizeNumber(s string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s)))
}
