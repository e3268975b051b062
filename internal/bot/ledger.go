package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"algotrade/internal/models"
	"algotrade/pkg/utils"
)

// AccountStore - персистентность полей дневного риска.
//
// Дебет обязан быть compare-and-set: сброс бюджета идёт по расписанию
// и может пересечься с дебетом из in-flight заявки того же счёта.
// Условный UPDATE в БД решает это без глобального лока.
type AccountStore interface {
	// DebitDailyRisk атомарно списывает amount из остатка бюджета,
	// не опуская его ниже нуля. Возвращает новый остаток.
	DebitDailyRisk(ctx context.Context, accountID int, amount float64) (float64, error)

	// ResetDailyRisk устанавливает новый остаток бюджета и время сброса
	ResetDailyRisk(ctx context.Context, accountID int, remaining float64, resetAt time.Time) error
}

// BalanceSource - источник баланса счёта для расчёта бюджета
type BalanceSource interface {
	GetAccountBalance(ctx context.Context) (float64, error)
}

// Ledger - дневной бюджет риска счетов.
//
// Бюджет пополняется раз в торговые сутки (в timezone счёта) из
// текущего баланса, списывается при каждом принятом ордере и никогда
// не уходит в минус.
type Ledger struct {
	store AccountStore
}

// NewLedger создаёт ledger поверх хранилища счетов
func NewLedger(store AccountStore) *Ledger {
	return &Ledger{store: store}
}

// ResetIfDue пополняет бюджет если начались новые торговые сутки.
//
// Начало суток считается в timezone счёта. Обновляет запись в
// хранилище и сам переданный config (движок держит его по ссылке).
func (l *Ledger) ResetIfDue(ctx context.Context, account *models.AccountConfig, balances BalanceSource, now time.Time) error {
	if !account.HasDailyRisk() {
		return nil
	}

	loc := utils.LoadLocationOrDefault(account.Timezone)
	if !utils.NeedsDailyReset(account.LastDailyReset, now, loc) {
		return nil
	}

	balance, err := balances.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance for reset: %w", err)
	}

	remaining := utils.RiskAmount(balance, account.DailyRiskPercentage)
	startOfDay := utils.StartOfDayIn(now, loc)

	if err := l.store.ResetDailyRisk(ctx, account.ID, remaining, startOfDay); err != nil {
		return fmt.Errorf("persist daily reset: %w", err)
	}

	account.RemainingDailyRisk = remaining
	account.LastDailyReset = &startOfDay

	DailyRiskRemaining.WithLabelValues(account.Key()).Set(remaining)
	log.Printf("[ledger %s] daily risk reset: budget %.2f (balance %.2f, %.1f%%)",
		account.Key(), remaining, balance, account.DailyRiskPercentage)

	return nil
}

// Debit списывает реализованный проектный риск принятой заявки.
//
// Списание атомарное на уровне хранилища и не опускает остаток ниже
// нуля: параллельный сброс или дебет другого вызова не теряются.
// Отказ по бюджету происходит раньше, в CanAfford, до обращений
// к брокеру.
func (l *Ledger) Debit(ctx context.Context, account *models.AccountConfig, amount float64) error {
	if !account.HasDailyRisk() || amount <= 0 {
		return nil
	}

	remaining, err := l.store.DebitDailyRisk(ctx, account.ID, amount)
	if err != nil {
		return fmt.Errorf("debit daily risk: %w", err)
	}

	account.RemainingDailyRisk = remaining
	DailyRiskRemaining.WithLabelValues(account.Key()).Set(remaining)

	return nil
}

// CanAfford проверяет, помещается ли проектный риск в остаток бюджета.
// Чистая проверка без списания, используется и verify-, и place-путём
// до каких-либо обращений к брокеру.
func (l *Ledger) CanAfford(account *models.AccountConfig, amount float64) bool {
	if !account.HasDailyRisk() {
		return true
	}
	if amount > account.RemainingDailyRisk {
		DailyRiskRejections.Inc()
		return false
	}
	return true
}
