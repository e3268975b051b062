package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"algotrade/internal/models"
)

// Ошибки репозитория счетов
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

const accountColumns = `id, owner, account_id, api_token, region, max_position_limit, splitting_target, risk_percentage, auto_lot_size, daily_risk_percentage, remaining_daily_risk, last_daily_reset, timezone, created_at, updated_at`

// AccountRepository - работа с таблицей accounts
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create создает новую привязку брокерского счёта
func (r *AccountRepository) Create(ctx context.Context, account *models.AccountConfig) error {
	query := `
		INSERT INTO accounts (owner, account_id, api_token, region, max_position_limit, splitting_target, risk_percentage, auto_lot_size, daily_risk_percentage, remaining_daily_risk, last_daily_reset, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	// Устанавливаем значения по умолчанию
	if account.Timezone == "" {
		account.Timezone = models.DefaultTimezone
	}
	if account.SplittingTarget == 0 {
		account.SplittingTarget = 1
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		account.Owner,
		account.AccountID,
		account.APIToken,
		account.Region,
		account.MaxPositionLimit,
		account.SplittingTarget,
		account.RiskPercentage,
		account.AutoLotSize,
		account.DailyRiskPercentage,
		account.RemainingDailyRisk,
		account.LastDailyReset,
		account.Timezone,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)

	if err != nil {
		if isAccountUniqueViolation(err) {
			return ErrAccountExists
		}
		return err
	}

	return nil
}

// GetByID возвращает счёт по ID
func (r *AccountRepository) GetByID(ctx context.Context, id int) (*models.AccountConfig, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByKey возвращает счёт по владельцу и брокерскому идентификатору
func (r *AccountRepository) GetByKey(ctx context.Context, owner, accountID string) (*models.AccountConfig, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE owner = $1 AND account_id = $2`

	return r.scanOne(r.db.QueryRowContext(ctx, query, owner, accountID))
}

// GetByOwner возвращает все счета владельца
func (r *AccountRepository) GetByOwner(ctx context.Context, owner string) ([]*models.AccountConfig, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE owner = $1
		ORDER BY created_at DESC`

	return r.queryMany(ctx, query, owner)
}

// GetAll возвращает все счета
func (r *AccountRepository) GetAll(ctx context.Context) ([]*models.AccountConfig, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY created_at DESC`

	return r.queryMany(ctx, query)
}

// Update обновляет настройки счёта
func (r *AccountRepository) Update(ctx context.Context, account *models.AccountConfig) error {
	query := `
		UPDATE accounts
		SET api_token = $1, region = $2, max_position_limit = $3, splitting_target = $4, risk_percentage = $5, auto_lot_size = $6, daily_risk_percentage = $7, timezone = $8, updated_at = $9
		WHERE id = $10`

	account.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(
		ctx,
		query,
		account.APIToken,
		account.Region,
		account.MaxPositionLimit,
		account.SplittingTarget,
		account.RiskPercentage,
		account.AutoLotSize,
		account.DailyRiskPercentage,
		account.Timezone,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

// Delete удаляет счёт
func (r *AccountRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

// DebitDailyRisk атомарно списывает сумму из остатка дневного бюджета.
//
// Остаток никогда не опускается ниже нуля: UPDATE с GREATEST в одном
// statement'е переживает гонку между параллельными списаниями и
// сбросом бюджета. Возвращает новый остаток.
func (r *AccountRepository) DebitDailyRisk(ctx context.Context, accountID int, amount float64) (float64, error) {
	query := `
		UPDATE accounts
		SET remaining_daily_risk = GREATEST(remaining_daily_risk - $1, 0), updated_at = $2
		WHERE id = $3
		RETURNING remaining_daily_risk`

	var remaining float64
	err := r.db.QueryRowContext(ctx, query, amount, time.Now(), accountID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	return remaining, nil
}

// ResetDailyRisk устанавливает новый остаток бюджета и время сброса
func (r *AccountRepository) ResetDailyRisk(ctx context.Context, accountID int, remaining float64, resetAt time.Time) error {
	query := `
		UPDATE accounts
		SET remaining_daily_risk = $1, last_daily_reset = $2, updated_at = $3
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, remaining, resetAt, time.Now(), accountID)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

// scanOne читает одну строку в модель счёта
func (r *AccountRepository) scanOne(row *sql.Row) (*models.AccountConfig, error) {
	account := &models.AccountConfig{}
	err := row.Scan(
		&account.ID,
		&account.Owner,
		&account.AccountID,
		&account.APIToken,
		&account.Region,
		&account.MaxPositionLimit,
		&account.SplittingTarget,
		&account.RiskPercentage,
		&account.AutoLotSize,
		&account.DailyRiskPercentage,
		&account.RemainingDailyRisk,
		&account.LastDailyReset,
		&account.Timezone,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

func (r *AccountRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.AccountConfig, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.AccountConfig
	for rows.Next() {
		account := &models.AccountConfig{}
		err := rows.Scan(
			&account.ID,
			&account.Owner,
			&account.AccountID,
			&account.APIToken,
			&account.Region,
			&account.MaxPositionLimit,
			&account.SplittingTarget,
			&account.RiskPercentage,
			&account.AutoLotSize,
			&account.DailyRiskPercentage,
			&account.RemainingDailyRisk,
			&account.LastDailyReset,
			&account.Timezone,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// requireAffected переводит "ни одной затронутой строки" в ErrAccountNotFound
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// isAccountUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isAccountUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}
