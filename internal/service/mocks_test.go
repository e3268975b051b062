package service

import (
	"context"
	"sync"
	"time"

	"algotrade/internal/broker"
	"algotrade/internal/models"
	"algotrade/internal/repository"
)

// ============================================================
// Mock Repositories and Engine
// ============================================================

// mockAccountRepo - репозиторий счетов в памяти
type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[int]*models.AccountConfig
	nextID   int

	createErr error
	updateErr error
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{
		accounts: make(map[int]*models.AccountConfig),
		nextID:   1,
	}
}

func (m *mockAccountRepo) Create(_ context.Context, account *models.AccountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.accounts {
		if existing.Owner == account.Owner && existing.AccountID == account.AccountID {
			return repository.ErrAccountExists
		}
	}
	account.ID = m.nextID
	m.nextID++
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

func (m *mockAccountRepo) GetByID(_ context.Context, id int) (*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *mockAccountRepo) GetByKey(_ context.Context, owner, accountID string) (*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Owner == owner && account.AccountID == accountID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccountRepo) GetByOwner(_ context.Context, owner string) ([]*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccountConfig
	for _, account := range m.accounts {
		if account.Owner == owner {
			copied := *account
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockAccountRepo) GetAll(_ context.Context) ([]*models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccountConfig
	for _, account := range m.accounts {
		copied := *account
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockAccountRepo) Update(_ context.Context, account *models.AccountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.accounts[account.ID]; !ok {
		return repository.ErrAccountNotFound
	}
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

func (m *mockAccountRepo) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *mockAccountRepo) DebitDailyRisk(_ context.Context, accountID int, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	account.RemainingDailyRisk -= amount
	if account.RemainingDailyRisk < 0 {
		account.RemainingDailyRisk = 0
	}
	return account.RemainingDailyRisk, nil
}

func (m *mockAccountRepo) ResetDailyRisk(_ context.Context, accountID int, remaining float64, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.RemainingDailyRisk = remaining
	account.LastDailyReset = &resetAt
	return nil
}

// mockEngine фиксирует вызовы торгового движка
type mockEngine struct {
	mu            sync.Mutex
	connected     map[string]bool
	connectErr    error
	verifyResult  *models.VerifiedOrder
	placeResult   *models.OrderResult
	verifyErr     error
	placeErr      error
	lastOrderKey  string
	subscriptions []string
}

func newMockEngine() *mockEngine {
	return &mockEngine{connected: make(map[string]bool)}
}

func (m *mockEngine) ConnectAccount(_ context.Context, account *models.AccountConfig, _ broker.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected[account.Key()] = true
	return nil
}

func (m *mockEngine) DisconnectAccount(accountKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connected, accountKey)
	return nil
}

func (m *mockEngine) VerifyOrder(_ context.Context, accountKey string, _ *models.OrderRequest) (*models.VerifiedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOrderKey = accountKey
	return m.verifyResult, m.verifyErr
}

func (m *mockEngine) PlaceOrder(_ context.Context, accountKey string, _ *models.OrderRequest) (*models.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOrderKey = accountKey
	return m.placeResult, m.placeErr
}

func (m *mockEngine) SubscribeSymbol(_ context.Context, accountKey, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, accountKey+":"+symbol)
	return nil
}

func (m *mockEngine) UnsubscribeSymbol(_ context.Context, accountKey, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscriptions {
		if sub == accountKey+":"+symbol {
			m.subscriptions = append(m.subscriptions[:i], m.subscriptions[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockEngine) isConnected(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[key]
}

// mockSessionFactory отдаёт стабовые сессии и запоминает токены,
// с которыми их запрашивали
type mockSessionFactory struct {
	mu         sync.Mutex
	tokens     []string
	factoryErr error
}

func (f *mockSessionFactory) NewSession(_ context.Context, _ *models.AccountConfig, apiToken string) (broker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	f.tokens = append(f.tokens, apiToken)
	return &stubSession{events: make(chan broker.Event)}, nil
}

func (f *mockSessionFactory) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

// stubSession - пустая брокерская сессия
type stubSession struct {
	events chan broker.Event
}

func (s *stubSession) GetMarketPrice(context.Context, string) (broker.Price, error) {
	return broker.Price{}, nil
}
func (s *stubSession) GetAccountBalance(context.Context) (float64, error) { return 0, nil }
func (s *stubSession) GetAccountInformation(context.Context) (*broker.AccountInformation, error) {
	return nil, nil
}
func (s *stubSession) CreateOrder(context.Context, broker.OrderSpec) (*broker.OrderConfirmation, error) {
	return &broker.OrderConfirmation{}, nil
}
func (s *stubSession) ModifyPosition(context.Context, string, float64, float64) error { return nil }
func (s *stubSession) ModifyOrder(context.Context, string, float64, float64, float64) error {
	return nil
}
func (s *stubSession) ClosePosition(context.Context, string) error          { return nil }
func (s *stubSession) CancelOrder(context.Context, string) error            { return nil }
func (s *stubSession) SubscribeMarketData(context.Context, string) error    { return nil }
func (s *stubSession) UnsubscribeMarketData(context.Context, string) error  { return nil }
func (s *stubSession) Positions() []broker.PositionSnapshot                 { return nil }
func (s *stubSession) Orders() []broker.OrderSnapshot                       { return nil }
func (s *stubSession) AccountInfo() *broker.AccountInformation              { return nil }
func (s *stubSession) RecentDeals(context.Context, int) ([]broker.Deal, error) {
	return nil, nil
}
func (s *stubSession) RecentHistoryOrders(context.Context, int) ([]broker.HistoryOrder, error) {
	return nil, nil
}
func (s *stubSession) Events() <-chan broker.Event { return s.events }
func (s *stubSession) Close() error                { return nil }
