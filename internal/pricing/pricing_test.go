package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func testRates() Rates {
	return Rates{
		BasePricePerPage:         decimal.RequireFromString("15.99"),
		UrgentDeliveryMultiplier: decimal.RequireFromString("2"),
		Urgent12HoursMultiplier:  decimal.RequireFromString("1.8"),
		Urgent24HoursMultiplier:  decimal.RequireFromString("1.5"),
		Urgent48HoursMultiplier:  decimal.RequireFromString("1.3"),
		MinimumHours:             6,
		StandardDeliveryDays:     7,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w := decimal.RequireFromString(want)
	assert.Truef(t, w.Equal(got), "want %s, got %s", w, got)
}

func TestCalculate_FarFutureScenario(t *testing.T) {
	q := Calculate(5, now.Add(10*24*time.Hour), testRates(), now)

	assertDecimal(t, "0.9", q.Multiplier)
	assertDecimal(t, "14.391", q.PricePerPage)
	assertDecimal(t, "71.955", q.TotalPrice)
	assertDecimal(t, "10.79325", q.Discount)
	assertDecimal(t, "61.16175", q.FinalPrice)
	assert.Equal(t, "61.16", q.FinalPrice.StringFixed(2))
	assert.Equal(t, 1375, q.Words)
}

func TestCalculate_MultiplierTiers(t *testing.T) {
	rates := testRates()

	tests := []struct {
		name  string
		after time.Duration
		want  string
	}{
		{name: "minimum hours boundary is urgent", after: 6 * time.Hour, want: "2"},
		{name: "just above minimum hours", after: 6*time.Hour + time.Minute, want: "1.8"},
		{name: "12 hours", after: 12 * time.Hour, want: "1.8"},
		{name: "24 hours", after: 24 * time.Hour, want: "1.5"},
		{name: "48 hours", after: 48 * time.Hour, want: "1.3"},
		{name: "standard window", after: 7 * 24 * time.Hour, want: "1"},
		{name: "beyond standard window", after: 8 * 24 * time.Hour, want: "0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Calculate(1, now.Add(tt.after), rates, now)
			assertDecimal(t, tt.want, q.Multiplier)
		})
	}
}

func TestCalculate_FinalPriceProperty(t *testing.T) {
	rates := testRates()
	due := now.Add(72 * time.Hour)

	for pages := 1; pages <= 12; pages++ {
		q := Calculate(pages, due, rates, now)

		factor := decimal.NewFromInt(1)
		if pages >= 3 {
			factor = decimal.RequireFromString("0.85")
		}
		want := q.PricePerPage.Mul(decimal.NewFromInt(int64(pages))).Mul(factor)

		require.Truef(t, want.Equal(q.FinalPrice), "pages=%d: want %s, got %s", pages, want, q.FinalPrice)
		require.True(t, q.FinalPrice.Equal(q.TotalPrice.Sub(q.Discount)))
		if pages < 3 {
			require.True(t, q.Discount.IsZero())
		}
	}
}

func TestCalculate_CoercesPages(t *testing.T) {
	q := Calculate(0, now.Add(72*time.Hour), testRates(), now)
	assert.Equal(t, 1, q.Pages)
	assert.True(t, q.TotalPrice.Equal(q.PricePerPage))

	q = Calculate(-4, now.Add(72*time.Hour), testRates(), now)
	assert.Equal(t, 1, q.Pages)
}

func TestCalculate_PastDeadlineIsPricedByDistance(t *testing.T) {
	future := Calculate(2, now.Add(10*time.Hour), testRates(), now)
	past := Calculate(2, now.Add(-10*time.Hour), testRates(), now)

	assert.True(t, future.FinalPrice.Equal(past.FinalPrice))
}

func TestCalculate_DeadlineText(t *testing.T) {
	q := Calculate(1, now.Add(6*time.Hour), testRates(), now)
	assert.Equal(t, "Today at 3:00 PM (Very Urgent)", q.DeadlineText)
}
