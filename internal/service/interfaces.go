package service

import (
	"context"
	"time"

	"algotrade/internal/bot"
	"algotrade/internal/broker"
	"algotrade/internal/models"
	"algotrade/internal/repository"
)

// AccountRepositoryInterface определяет интерфейс репозитория счетов
type AccountRepositoryInterface interface {
	Create(ctx context.Context, account *models.AccountConfig) error
	GetByID(ctx context.Context, id int) (*models.AccountConfig, error)
	GetByKey(ctx context.Context, owner, accountID string) (*models.AccountConfig, error)
	GetByOwner(ctx context.Context, owner string) ([]*models.AccountConfig, error)
	GetAll(ctx context.Context) ([]*models.AccountConfig, error)
	Update(ctx context.Context, account *models.AccountConfig) error
	Delete(ctx context.Context, id int) error
	DebitDailyRisk(ctx context.Context, accountID int, amount float64) (float64, error)
	ResetDailyRisk(ctx context.Context, accountID int, remaining float64, resetAt time.Time) error
}

// TradingEngine определяет интерфейс торгового движка
type TradingEngine interface {
	// ConnectAccount поднимает процесс реконсиляции счёта поверх
	// готовой брокерской сессии
	ConnectAccount(ctx context.Context, account *models.AccountConfig, session broker.Session) error
	// DisconnectAccount останавливает процесс счёта
	DisconnectAccount(accountKey string) error
	// VerifyOrder - dry-run проверка заявки
	VerifyOrder(ctx context.Context, accountKey string, req *models.OrderRequest) (*models.VerifiedOrder, error)
	// PlaceOrder - валидация и размещение заявки
	PlaceOrder(ctx context.Context, accountKey string, req *models.OrderRequest) (*models.OrderResult, error)
	// SubscribeSymbol включает стрим котировок символа
	SubscribeSymbol(ctx context.Context, accountKey, symbol string) error
	// UnsubscribeSymbol выключает стрим котировок символа
	UnsubscribeSymbol(ctx context.Context, accountKey, symbol string) error
}

// SessionFactory создаёт брокерскую сессию счёта.
//
// Токен приходит уже расшифрованным: фабрика не знает про ключи
// шифрования, сервис счетов не знает про транспорт.
type SessionFactory interface {
	NewSession(ctx context.Context, account *models.AccountConfig, apiToken string) (broker.Session, error)
}

// Проверяем, что реальные реализации удовлетворяют интерфейсам
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ TradingEngine = (*bot.Engine)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// AccountServiceInterface определяет интерфейс сервиса счетов
type AccountServiceInterface interface {
	RegisterAccount(ctx context.Context, req *RegisterAccountRequest) (*models.AccountConfig, error)
	GetAccounts(ctx context.Context, owner string) ([]*models.AccountConfig, error)
	GetAccount(ctx context.Context, owner, accountID string) (*models.AccountConfig, error)
	UpdateAccount(ctx context.Context, owner, accountID string, req *UpdateAccountRequest) (*models.AccountConfig, error)
	RemoveAccount(ctx context.Context, owner, accountID string) error
	ConnectAccount(ctx context.Context, owner, accountID string) error
	DisconnectAccount(ctx context.Context, owner, accountID string) error
	ReconnectAll(ctx context.Context) error
}

// TradingServiceInterface определяет интерфейс торгового сервиса
type TradingServiceInterface interface {
	VerifyOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.VerifiedOrder, error)
	PlaceOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.OrderResult, error)
	SubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error
	UnsubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error
}

var _ AccountServiceInterface = (*AccountService)(nil)
var _ TradingServiceInterface = (*TradingService)(nil)
