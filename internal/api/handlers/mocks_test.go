package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"algotrade/internal/models"
	"algotrade/internal/service"
)

// ErrMockDatabase имитирует отказ хранилища в негативных сценариях
var ErrMockDatabase = errors.New("mock database failure")

// ============ Mock Account Service ============

// MockAccountService мок для AccountServiceInterface
type MockAccountService struct {
	accounts map[string]*models.AccountConfig // ключ owner_accountID
	failWith error
	nextID   int
	mu       sync.RWMutex
}

// NewMockAccountService создает новый мок сервиса счетов
func NewMockAccountService() *MockAccountService {
	return &MockAccountService{
		accounts: make(map[string]*models.AccountConfig),
		nextID:   1,
	}
}

// SetError заставляет все последующие вызовы возвращать err
func (m *MockAccountService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockAccountService) RegisterAccount(ctx context.Context, req *service.RegisterAccountRequest) (*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	if req.AccountID == "" {
		return nil, service.ErrInvalidAccountID
	}
	if req.APIToken == "" {
		return nil, service.ErrInvalidAPIToken
	}

	key := req.Owner + "_" + req.AccountID
	if _, exists := m.accounts[key]; exists {
		return nil, service.ErrAccountAlreadyExists
	}

	account := &models.AccountConfig{
		ID:                  m.nextID,
		Owner:               req.Owner,
		AccountID:           req.AccountID,
		Region:              req.Region,
		MaxPositionLimit:    req.MaxPositionLimit,
		SplittingTarget:     req.SplittingTarget,
		RiskPercentage:      req.RiskPercentage,
		AutoLotSize:         req.AutoLotSize,
		DailyRiskPercentage: req.DailyRiskPercentage,
		Timezone:            req.Timezone,
		CreatedAt:           time.Now(),
	}
	m.nextID++
	m.accounts[key] = account
	return account, nil
}

func (m *MockAccountService) GetAccounts(ctx context.Context, owner string) ([]*models.AccountConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	result := make([]*models.AccountConfig, 0)
	for _, a := range m.accounts {
		if a.Owner == owner {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *MockAccountService) GetAccount(ctx context.Context, owner, accountID string) (*models.AccountConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	account, exists := m.accounts[owner+"_"+accountID]
	if !exists {
		return nil, service.ErrAccountNotFound
	}
	return account, nil
}

func (m *MockAccountService) UpdateAccount(ctx context.Context, owner, accountID string, req *service.UpdateAccountRequest) (*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	account, exists := m.accounts[owner+"_"+accountID]
	if !exists {
		return nil, service.ErrAccountNotFound
	}
	if req.MaxPositionLimit != nil {
		if *req.MaxPositionLimit < 1 {
			return nil, service.ErrInvalidPositionLimit
		}
		account.MaxPositionLimit = *req.MaxPositionLimit
	}
	if req.DailyRiskPercentage != nil {
		account.DailyRiskPercentage = *req.DailyRiskPercentage
	}
	return account, nil
}

func (m *MockAccountService) RemoveAccount(ctx context.Context, owner, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	key := owner + "_" + accountID
	if _, exists := m.accounts[key]; !exists {
		return service.ErrAccountNotFound
	}
	delete(m.accounts, key)
	return nil
}

func (m *MockAccountService) ConnectAccount(ctx context.Context, owner, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	if _, exists := m.accounts[owner+"_"+accountID]; !exists {
		return service.ErrAccountNotFound
	}
	return nil
}

func (m *MockAccountService) DisconnectAccount(ctx context.Context, owner, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	if _, exists := m.accounts[owner+"_"+accountID]; !exists {
		return service.ErrAccountNotFound
	}
	return nil
}

func (m *MockAccountService) ReconnectAll(ctx context.Context) error {
	return m.failWith
}

// ============ Mock Trading Service ============

// MockTradingService мок для TradingServiceInterface
type MockTradingService struct {
	verifyResult *models.VerifiedOrder
	placeResult  *models.OrderResult
	failWith     error

	lastOwner     string
	lastAccountID string
	subscriptions []string
	mu            sync.Mutex
}

// NewMockTradingService создает новый мок торгового сервиса
func NewMockTradingService() *MockTradingService {
	return &MockTradingService{}
}

// SetError заставляет все последующие вызовы возвращать err
func (m *MockTradingService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockTradingService) VerifyOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.VerifiedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastOwner, m.lastAccountID = owner, accountID
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.verifyResult, nil
}

func (m *MockTradingService) PlaceOrder(ctx context.Context, owner, accountID string, req *models.OrderRequest) (*models.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastOwner, m.lastAccountID = owner, accountID
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.placeResult, nil
}

func (m *MockTradingService) SubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	m.subscriptions = append(m.subscriptions, owner+"_"+accountID+":"+symbol)
	return nil
}

func (m *MockTradingService) UnsubscribeSymbol(ctx context.Context, owner, accountID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	target := owner + "_" + accountID + ":" + symbol
	for i, s := range m.subscriptions {
		if s == target {
			m.subscriptions = append(m.subscriptions[:i], m.subscriptions[i+1:]...)
			break
		}
	}
	return nil
}

// Проверяем, что моки удовлетворяют интерфейсам сервисов
var _ service.AccountServiceInterface = (*MockAccountService)(nil)
var _ service.TradingServiceInterface = (*MockTradingService)(nil)
