// Package deadline вычисляет срочность заказа и человекочитаемые подписи сроков сдачи.
package deadline

import (
	"fmt"
	"math"
	"time"
)

const (
	urgentWindow = 24 * time.Hour
	weekDays     = 7
	clockLayout  = "3:04 PM"
	dateLayout   = "Jan 2, 2006"
)

// CountdownInfo - обратный отсчёт до срока сдачи.
type CountdownInfo struct {
	TimeRemaining  string `json:"timeRemaining"`
	IsPastDeadline bool   `json:"isPastDeadline"`
}

// Countdown возвращает оставшееся до срока время в виде строки.
func Countdown(deadline, now time.Time) CountdownInfo {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return CountdownInfo{TimeRemaining: "Past deadline", IsPastDeadline: true}
	}

	days := int(remaining / (24 * time.Hour))
	hours := int(remaining % (24 * time.Hour) / time.Hour)
	minutes := int(remaining % time.Hour / time.Minute)

	var text string
	switch {
	case days > 0:
		text = fmt.Sprintf("%dd %dh remaining", days, hours)
	case hours > 0:
		text = fmt.Sprintf("%dh %dm remaining", hours, minutes)
	default:
		text = fmt.Sprintf("%dm remaining", minutes)
	}

	return CountdownInfo{TimeRemaining: text}
}

// IsUrgent сообщает, что до срока осталось не более суток и срок ещё не прошёл.
func IsUrgent(deadline, now time.Time) bool {
	remaining := deadline.Sub(now)
	return remaining > 0 && remaining <= urgentWindow
}

// Hours возвращает округлённое вверх число часов между now и deadline.
// Берётся модуль разницы, поэтому прошедший срок считается так же, как будущий.
func Hours(deadline, now time.Time) int {
	return int(math.Ceil(absDiff(deadline, now).Hours()))
}

// Days возвращает округлённое вверх число суток между now и deadline (по модулю).
func Days(deadline, now time.Time) int {
	return int(math.Ceil(absDiff(deadline, now).Hours() / 24))
}

func absDiff(deadline, now time.Time) time.Duration {
	d := deadline.Sub(now)
	if d < 0 {
		return -d
	}
	return d
}

// Label строит подпись срока: "Today at …", "Tomorrow at …", день недели в пределах недели
// или полную дату, с пометкой срочности.
func Label(deadline, now time.Time) string {
	local := deadline.In(now.Location())
	clock := local.Format(clockLayout)

	var text string
	switch days := calendarDays(local, now); {
	case days == 0:
		text = "Today at " + clock
	case days == 1:
		text = "Tomorrow at " + clock
	case days > 1 && days < weekDays:
		text = local.Weekday().String() + " at " + clock
	default:
		text = local.Format(dateLayout) + " at " + clock
	}

	if note := urgencyNote(Hours(deadline, now)); note != "" {
		text += " " + note
	}

	return text
}

func urgencyNote(hours int) string {
	switch {
	case hours <= 12:
		return "(Very Urgent)"
	case hours <= 24:
		return "(Urgent)"
	case hours <= 48:
		return "(Express)"
	}
	return ""
}

func calendarDays(t, now time.Time) int {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := t.Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(math.Round(to.Sub(from).Hours() / 24))
}
