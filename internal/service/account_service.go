package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"algotrade/internal/bot"
	"algotrade/internal/models"
	"algotrade/internal/repository"
	"algotrade/pkg/crypto"
	"algotrade/pkg/utils"
)

// Ошибки сервиса счетов
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already registered")
	ErrInvalidAccountID     = errors.New("broker account id is required")
	ErrInvalidAPIToken      = errors.New("api token is required")
	ErrInvalidPositionLimit = errors.New("max position limit must be at least 1")
	ErrInvalidSplitting     = errors.New("splitting target must be at least 1")
	ErrInvalidRiskPct       = errors.New("risk percentage must be between 0 and 100")
	ErrInvalidTimezone      = errors.New("unknown IANA timezone")
)

// RegisterAccountRequest - запрос привязки брокерского счёта
type RegisterAccountRequest struct {
	Owner               string  `json:"owner"`
	AccountID           string  `json:"account_id"`
	APIToken            string  `json:"api_token"`
	Region              string  `json:"region"`
	MaxPositionLimit    int     `json:"max_position_limit"`
	SplittingTarget     int     `json:"splitting_target"`
	RiskPercentage      float64 `json:"risk_percentage"`
	AutoLotSize         bool    `json:"auto_lot_size"`
	DailyRiskPercentage float64 `json:"daily_risk_percentage"`
	Timezone            string  `json:"timezone"`
}

// UpdateAccountRequest - изменяемые настройки счёта.
// nil-поля остаются нетронутыми.
type UpdateAccountRequest struct {
	APIToken            *string  `json:"api_token,omitempty"`
	Region              *string  `json:"region,omitempty"`
	MaxPositionLimit    *int     `json:"max_position_limit,omitempty"`
	SplittingTarget     *int     `json:"splitting_target,omitempty"`
	RiskPercentage      *float64 `json:"risk_percentage,omitempty"`
	AutoLotSize         *bool    `json:"auto_lot_size,omitempty"`
	DailyRiskPercentage *float64 `json:"daily_risk_percentage,omitempty"`
	Timezone            *string  `json:"timezone,omitempty"`
}

// AccountService - бизнес-логика управления брокерскими счетами.
//
// Токены хранятся только в зашифрованном виде; расшифровка происходит
// в момент создания брокерской сессии и никуда не возвращается.
type AccountService struct {
	repo     AccountRepositoryInterface
	engine   TradingEngine
	sessions SessionFactory

	// Ключ шифрования API-токенов (hex, AES-256)
	encryptionKey string
}

// NewAccountService создает новый экземпляр сервиса счетов
func NewAccountService(repo AccountRepositoryInterface, engine TradingEngine, sessions SessionFactory, encryptionKey string) *AccountService {
	return &AccountService{
		repo:          repo,
		engine:        engine,
		sessions:      sessions,
		encryptionKey: encryptionKey,
	}
}

// RegisterAccount привязывает счёт и сразу подключает его к терминалу.
//
// Порядок намеренный: сначала запись в БД, потом подключение. Провал
// подключения не откатывает запись: счёт остаётся зарегистрированным
// и подключится при следующем ReconnectAll или явном ConnectAccount.
func (s *AccountService) RegisterAccount(ctx context.Context, req *RegisterAccountRequest) (*models.AccountConfig, error) {
	if err := s.validateRegister(req); err != nil {
		return nil, err
	}

	encrypted, err := crypto.EncryptWithKeyString(req.APIToken, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api token: %w", err)
	}

	account := &models.AccountConfig{
		Owner:               req.Owner,
		AccountID:           req.AccountID,
		APIToken:            encrypted,
		Region:              req.Region,
		MaxPositionLimit:    req.MaxPositionLimit,
		SplittingTarget:     req.SplittingTarget,
		RiskPercentage:      req.RiskPercentage,
		AutoLotSize:         req.AutoLotSize,
		DailyRiskPercentage: req.DailyRiskPercentage,
		Timezone:            req.Timezone,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return nil, ErrAccountAlreadyExists
		}
		return nil, err
	}

	if err := s.connect(ctx, account, req.APIToken); err != nil {
		log.Printf("[accounts] connect %s after registration: %v", account.Key(), err)
	}

	return account, nil
}

// GetAccounts возвращает все счета владельца
func (s *AccountService) GetAccounts(ctx context.Context, owner string) ([]*models.AccountConfig, error) {
	return s.repo.GetByOwner(ctx, owner)
}

// GetAccount возвращает один счёт владельца
func (s *AccountService) GetAccount(ctx context.Context, owner, accountID string) (*models.AccountConfig, error) {
	account, err := s.repo.GetByKey(ctx, owner, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// UpdateAccount изменяет настройки счёта.
//
// Подключённый процесс счёта держит конфиг по ссылке и видит новые
// лимиты со следующей заявки; смена токена или региона требует
// переподключения.
func (s *AccountService) UpdateAccount(ctx context.Context, owner, accountID string, req *UpdateAccountRequest) (*models.AccountConfig, error) {
	account, err := s.GetAccount(ctx, owner, accountID)
	if err != nil {
		return nil, err
	}

	reconnect := false

	if req.APIToken != nil {
		if *req.APIToken == "" {
			return nil, ErrInvalidAPIToken
		}
		encrypted, err := crypto.EncryptWithKeyString(*req.APIToken, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt api token: %w", err)
		}
		account.APIToken = encrypted
		reconnect = true
	}
	if req.Region != nil {
		account.Region = *req.Region
		reconnect = true
	}
	if req.MaxPositionLimit != nil {
		if *req.MaxPositionLimit < 1 {
			return nil, ErrInvalidPositionLimit
		}
		account.MaxPositionLimit = *req.MaxPositionLimit
	}
	if req.SplittingTarget != nil {
		if *req.SplittingTarget < 1 {
			return nil, ErrInvalidSplitting
		}
		account.SplittingTarget = *req.SplittingTarget
	}
	if req.RiskPercentage != nil {
		if *req.RiskPercentage < 0 || *req.RiskPercentage > 100 {
			return nil, ErrInvalidRiskPct
		}
		account.RiskPercentage = *req.RiskPercentage
	}
	if req.AutoLotSize != nil {
		account.AutoLotSize = *req.AutoLotSize
	}
	if req.DailyRiskPercentage != nil {
		if *req.DailyRiskPercentage < 0 || *req.DailyRiskPercentage > 100 {
			return nil, ErrInvalidRiskPct
		}
		account.DailyRiskPercentage = *req.DailyRiskPercentage
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, ErrInvalidTimezone
		}
		account.Timezone = *req.Timezone
	}

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, err
	}

	if reconnect {
		if err := s.reconnect(ctx, account); err != nil {
			log.Printf("[accounts] reconnect %s after update: %v", account.Key(), err)
		}
	}

	return account, nil
}

// RemoveAccount отключает счёт от терминала и удаляет привязку
func (s *AccountService) RemoveAccount(ctx context.Context, owner, accountID string) error {
	account, err := s.GetAccount(ctx, owner, accountID)
	if err != nil {
		return err
	}

	if err := s.engine.DisconnectAccount(account.Key()); err != nil && !errors.Is(err, bot.ErrAccountNotConnected) {
		// Счёт мог быть не подключён, это не мешает удалению
		log.Printf("[accounts] disconnect %s before removal: %v", account.Key(), err)
	}

	return s.repo.Delete(ctx, account.ID)
}

// ConnectAccount явно подключает зарегистрированный счёт
func (s *AccountService) ConnectAccount(ctx context.Context, owner, accountID string) error {
	account, err := s.GetAccount(ctx, owner, accountID)
	if err != nil {
		return err
	}

	token, err := crypto.DecryptWithKeyString(account.APIToken, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("decrypt api token: %w", err)
	}

	return s.connect(ctx, account, token)
}

// DisconnectAccount явно отключает счёт от терминала
func (s *AccountService) DisconnectAccount(ctx context.Context, owner, accountID string) error {
	account, err := s.GetAccount(ctx, owner, accountID)
	if err != nil {
		return err
	}
	return s.engine.DisconnectAccount(account.Key())
}

// ReconnectAll подключает все зарегистрированные счета.
// Вызывается при старте сервера; счета с провалившимся подключением
// пропускаются с логом, остальные поднимаются.
func (s *AccountService) ReconnectAll(ctx context.Context) error {
	accounts, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	for _, account := range accounts {
		token, err := crypto.DecryptWithKeyString(account.APIToken, s.encryptionKey)
		if err != nil {
			log.Printf("[accounts] decrypt token for %s: %v", account.Key(), err)
			continue
		}
		if err := s.connect(ctx, account, token); err != nil {
			log.Printf("[accounts] connect %s on startup: %v", account.Key(), err)
		}
	}

	log.Printf("[accounts] startup reconnect finished: %d account(s)", len(accounts))
	return nil
}

// connect создаёт сессию и отдаёт счёт движку
func (s *AccountService) connect(ctx context.Context, account *models.AccountConfig, token string) error {
	session, err := s.sessions.NewSession(ctx, account, token)
	if err != nil {
		return fmt.Errorf("create broker session: %w", err)
	}

	if err := s.engine.ConnectAccount(ctx, account, session); err != nil {
		session.Close()
		return err
	}
	return nil
}

// reconnect пересоздаёт сессию счёта после смены токена или региона
func (s *AccountService) reconnect(ctx context.Context, account *models.AccountConfig) error {
	if err := s.engine.DisconnectAccount(account.Key()); err != nil {
		log.Printf("[accounts] disconnect %s for reconnect: %v", account.Key(), err)
	}

	token, err := crypto.DecryptWithKeyString(account.APIToken, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("decrypt api token: %w", err)
	}
	return s.connect(ctx, account, token)
}

func (s *AccountService) validateRegister(req *RegisterAccountRequest) error {
	if req.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if req.AccountID == "" {
		return ErrInvalidAccountID
	}
	if req.APIToken == "" {
		return ErrInvalidAPIToken
	}
	if req.MaxPositionLimit < 1 {
		return ErrInvalidPositionLimit
	}
	if req.SplittingTarget < 1 {
		return ErrInvalidSplitting
	}
	if req.RiskPercentage < 0 || req.RiskPercentage > 100 {
		return ErrInvalidRiskPct
	}
	if req.DailyRiskPercentage < 0 || req.DailyRiskPercentage > 100 {
		return ErrInvalidRiskPct
	}
	if req.Timezone == "" {
		req.Timezone = utils.DefaultTradingTimezone
	} else if _, err := time.LoadLocation(req.Timezone); err != nil {
		return ErrInvalidTimezone
	}
	return nil
}
