// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalid оборачивает все ошибки валидации.
var ErrInvalid = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Required проверяет, что строковое поле заполнено.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

// OneOf проверяет, что значение входит в список допустимых. Пустой список ничего не ограничивает.
func OneOf(field, value string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return nil
		}
	}
	return invalid("%s %q is not supported", field, value)
}

// Pages проверяет число страниц. maxPages <= 0 снимает верхнюю границу.
func Pages(n, maxPages int) error {
	if n < 1 {
		return invalid("pages must be at least 1")
	}
	if maxPages > 0 && n > maxPages {
		return invalid("pages must not exceed %d", maxPages)
	}
	return nil
}

// Deadline проверяет, что срок сдачи ещё не наступил.
func Deadline(deadline, now time.Time) error {
	if deadline.IsZero() {
		return invalid("deadline is required")
	}
	if !deadline.After(now) {
		return invalid("deadline must be in the future")
	}
	return nil
}

// PositiveAmount проверяет, что сумма больше нуля и не содержит долей цента.
func PositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return invalid("amount must have at most two decimal places")
	}
	return nil
}

// AmountInRange проверяет сумму на положительность и границы. Нулевая граница не применяется.
func AmountInRange(amount, minimum, maximum decimal.Decimal) error {
	if err := PositiveAmount(amount); err != nil {
		return err
	}
	if minimum.IsPositive() && amount.LessThan(minimum) {
		return invalid("amount must be at least %s", minimum.StringFixed(2))
	}
	if maximum.IsPositive() && amount.GreaterThan(maximum) {
		return invalid("amount must not exceed %s", maximum.StringFixed(2))
	}
	return nil
}

// Email проверяет адрес электронной почты получателя выплаты.
func Email(address string) error {
	if address == "" {
		return invalid("paypalEmail is required")
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || !strings.Contains(address[strings.LastIndex(address, "@")+1:], ".") {
		return invalid("paypalEmail %q is not a valid email address", address)
	}
	return nil
}
