// Package pricing рассчитывает стоимость заказа по числу страниц и сроку сдачи.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/essaymarket/internal/deadline"
	"github.com/mmeshcher/essaymarket/internal/model"
)

const (
	bulkDiscountPages = 3
	urgent12Hours     = 12
	urgent24Hours     = 24
	urgent48Hours     = 48
)

var (
	bulkDiscountRate    = decimal.RequireFromString("0.15")
	standardMultiplier  = decimal.NewFromInt(1)
	farFutureMultiplier = decimal.RequireFromString("0.9")
)

// Rates - тарифы, от которых зависит цена страницы.
type Rates struct {
	BasePricePerPage         decimal.Decimal
	UrgentDeliveryMultiplier decimal.Decimal
	Urgent12HoursMultiplier  decimal.Decimal
	Urgent24HoursMultiplier  decimal.Decimal
	Urgent48HoursMultiplier  decimal.Decimal
	MinimumHours             int
	StandardDeliveryDays     int
}

// Quote - результат расчёта стоимости заказа.
type Quote struct {
	Pages        int
	Words        int
	Hours        int
	Days         int
	Multiplier   decimal.Decimal
	PricePerPage decimal.Decimal
	TotalPrice   decimal.Decimal
	Discount     decimal.Decimal
	FinalPrice   decimal.Decimal
	DeadlineText string
}

// Calculate рассчитывает стоимость. Число страниц меньше единицы приводится к одной странице.
func Calculate(pages int, due time.Time, rates Rates, now time.Time) Quote {
	if pages < 1 {
		pages = 1
	}

	hours := deadline.Hours(due, now)
	days := deadline.Days(due, now)
	multiplier := Multiplier(hours, days, rates)

	pricePerPage := rates.BasePricePerPage.Mul(multiplier)
	total := pricePerPage.Mul(decimal.NewFromInt(int64(pages)))

	discount := decimal.Zero
	if pages >= bulkDiscountPages {
		discount = total.Mul(bulkDiscountRate)
	}

	return Quote{
		Pages:        pages,
		Words:        pages * model.WordsPerPage,
		Hours:        hours,
		Days:         days,
		Multiplier:   multiplier,
		PricePerPage: pricePerPage,
		TotalPrice:   total,
		Discount:     discount,
		FinalPrice:   total.Sub(discount),
		DeadlineText: deadline.Label(due, now),
	}
}

// Multiplier выбирает коэффициент срочности по первому подходящему правилу.
func Multiplier(hours, days int, rates Rates) decimal.Decimal {
	switch {
	case hours <= rates.MinimumHours:
		return rates.UrgentDeliveryMultiplier
	case hours <= urgent12Hours:
		return rates.Urgent12HoursMultiplier
	case hours <= urgent24Hours:
		return rates.Urgent24HoursMultiplier
	case hours <= urgent48Hours:
		return rates.Urgent48HoursMultiplier
	case days <= rates.StandardDeliveryDays:
		return standardMultiplier
	default:
		return farFutureMultiplier
	}
}
