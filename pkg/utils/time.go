package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы торгового дня считаются в timezone счёта, а не в UTC.
// Дневной лимит риска сбрасывается в полночь по локальному времени
// площадки (по умолчанию Asia/Dubai).

// DefaultTradingTimezone - timezone торгового дня по умолчанию
const DefaultTradingTimezone = "Asia/Dubai"

// LoadLocationOrDefault загружает timezone по имени.
//
// При пустом имени или ошибке парсинга возвращает DefaultTradingTimezone,
// а если и он недоступен, то UTC. Сломанная настройка timezone не должна
// останавливать сброс дневного риска.
func LoadLocationOrDefault(name string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(DefaultTradingTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// StartOfDayIn возвращает начало дня (00:00:00) для времени t в timezone loc
//
// Пример:
//
//	// t: 2024-01-15 03:30:45 UTC, loc: Asia/Dubai (UTC+4)
//	start := StartOfDayIn(t, loc)
//	// start: 2024-01-15 00:00:00 +04:00
func StartOfDayIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// SameTradingDay проверяет, попадают ли два момента в один торговый день
// указанной timezone.
func SameTradingDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDayIn(a, loc).Equal(StartOfDayIn(b, loc))
}

// NeedsDailyReset проверяет, наступил ли новый торговый день после lastReset.
//
// nil lastReset означает что сброс ещё ни разу не выполнялся.
func NeedsDailyReset(lastReset *time.Time, now time.Time, loc *time.Location) bool {
	if lastReset == nil {
		return true
	}
	return !SameTradingDay(*lastReset, now, loc)
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes > 0 {
			return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
		}
		return (time.Duration(hours) * time.Hour).String()
	}

	if minutes > 0 {
		if seconds > 0 {
			return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
		}
		return (time.Duration(minutes) * time.Minute).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
