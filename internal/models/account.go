package models

import "time"

// AccountConfig представляет торговый счёт у брокера с настройками риска.
//
// Одна запись на пару (владелец, счёт брокера). Создаётся при онбординге
// (внешний модуль), ядро читает её и изменяет только поля дневного риска
// (RemainingDailyRisk, LastDailyReset).
type AccountConfig struct {
	ID        int    `json:"id" db:"id"`
	Owner     string `json:"owner" db:"owner"`           // идентификатор владельца (внешняя auth-система)
	AccountID string `json:"account_id" db:"account_id"` // идентификатор счёта у брокерского сервиса
	APIToken  string `json:"-" db:"api_token"`           // зашифрован, не возвращается в JSON
	Region    string `json:"region" db:"region"`         // регион брокерского шлюза (new-york, london)

	// Лимиты позиций и разбиение на тейк-профиты
	MaxPositionLimit int `json:"max_position_limit" db:"max_position_limit"` // > 0
	SplittingTarget  int `json:"splitting_target" db:"splitting_target"`    // >= 1, максимум тейк-профит частей

	// Автоматический расчёт объёма
	RiskPercentage float64 `json:"risk_percentage" db:"risk_percentage"` // % баланса на сделку при авторасчёте
	AutoLotSize    bool    `json:"auto_lot_size" db:"auto_lot_size"`

	// Дневной бюджет риска (0 = не задан)
	DailyRiskPercentage float64    `json:"daily_risk_percentage" db:"daily_risk_percentage"`
	RemainingDailyRisk  float64    `json:"remaining_daily_risk" db:"remaining_daily_risk"`
	LastDailyReset      *time.Time `json:"last_daily_reset,omitempty" db:"last_daily_reset"`
	Timezone            string     `json:"timezone" db:"timezone"` // IANA, например Asia/Dubai

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key возвращает составной ключ владелец_счёт.
// Используется как ключ процессов реконсиляции и комнат live-трансляции.
func (a *AccountConfig) Key() string {
	return a.Owner + "_" + a.AccountID
}

// MaxOpenEntities возвращает предельное число открытых позиций и отложенных
// ордеров: maxPositionLimit * splittingTarget.
func (a *AccountConfig) MaxOpenEntities() int {
	return a.MaxPositionLimit * a.SplittingTarget
}

// HasDailyRisk сообщает, настроен ли для счёта дневной бюджет риска.
func (a *AccountConfig) HasDailyRisk() bool {
	return a.DailyRiskPercentage > 0
}

// DefaultTimezone - часовой пояс по умолчанию для сброса дневного риска,
// если пользователь не указал свой.
const DefaultTimezone = "Asia/Dubai"
