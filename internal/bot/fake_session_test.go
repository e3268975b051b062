package bot

import (
	"context"
	"sync"

	"algotrade/internal/broker"
)

// fakeSession - брокерская сессия в памяти для тестов координатора
// и реконсилятора. Фиксирует все мутирующие вызовы.
type fakeSession struct {
	mu sync.Mutex

	price    broker.Price
	priceErr error

	balance    float64
	balanceErr error

	accountInfo *broker.AccountInformation

	positions []broker.PositionSnapshot
	orders    []broker.OrderSnapshot

	deals      []broker.Deal
	dealsErr   error
	history    []broker.HistoryOrder
	historyErr error

	created   []broker.OrderSpec
	createErr error
	// createErrAt проваливает создание ордера с данным порядковым
	// номером вызова (с нуля), остальные проходят
	createErrAt map[int]error

	modifiedPositions []positionModify
	modifyPosErr      error
	modifiedOrders    []orderModify
	modifyOrdErr      error

	closed      []string
	closeErr    error
	canceled    []string
	cancelErr   error
	subscribed  []string
	unsubbed    []string

	events chan broker.Event
}

type positionModify struct {
	id                   string
	stopLoss, takeProfit float64
}

type orderModify struct {
	id                              string
	openPrice, stopLoss, takeProfit float64
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:      make(chan broker.Event, 16),
		createErrAt: make(map[int]error),
	}
}

func (s *fakeSession) GetMarketPrice(context.Context, string) (broker.Price, error) {
	return s.price, s.priceErr
}

func (s *fakeSession) GetAccountBalance(context.Context) (float64, error) {
	return s.balance, s.balanceErr
}

func (s *fakeSession) GetAccountInformation(context.Context) (*broker.AccountInformation, error) {
	return s.accountInfo, nil
}

func (s *fakeSession) CreateOrder(_ context.Context, spec broker.OrderSpec) (*broker.OrderConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.created)
	s.created = append(s.created, spec)

	if err, ok := s.createErrAt[call]; ok {
		return nil, err
	}
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &broker.OrderConfirmation{OrderID: spec.ClientID, Code: "TRADE_RETCODE_DONE"}, nil
}

func (s *fakeSession) ModifyPosition(_ context.Context, id string, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modifyPosErr != nil {
		return s.modifyPosErr
	}
	s.modifiedPositions = append(s.modifiedPositions, positionModify{id, stopLoss, takeProfit})
	return nil
}

func (s *fakeSession) ModifyOrder(_ context.Context, id string, openPrice, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modifyOrdErr != nil {
		return s.modifyOrdErr
	}
	s.modifiedOrders = append(s.modifiedOrders, orderModify{id, openPrice, stopLoss, takeProfit})
	return nil
}

func (s *fakeSession) ClosePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = append(s.closed, id)
	return nil
}

func (s *fakeSession) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.canceled = append(s.canceled, id)
	return nil
}

func (s *fakeSession) SubscribeMarketData(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, symbol)
	return nil
}

func (s *fakeSession) UnsubscribeMarketData(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubbed = append(s.unsubbed, symbol)
	return nil
}

func (s *fakeSession) Positions() []broker.PositionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.PositionSnapshot, len(s.positions))
	copy(out, s.positions)
	return out
}

func (s *fakeSession) Orders() []broker.OrderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.OrderSnapshot, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *fakeSession) AccountInfo() *broker.AccountInformation {
	return s.accountInfo
}

func (s *fakeSession) RecentDeals(context.Context, int) ([]broker.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deals, s.dealsErr
}

func (s *fakeSession) RecentHistoryOrders(context.Context, int) ([]broker.HistoryOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, s.historyErr
}

func (s *fakeSession) Events() <-chan broker.Event {
	return s.events
}

func (s *fakeSession) Close() error {
	return nil
}

func (s *fakeSession) createdOrders() []broker.OrderSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.OrderSpec, len(s.created))
	copy(out, s.created)
	return out
}
