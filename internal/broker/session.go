package broker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"algotrade/pkg/ratelimit"
)

// SessionConfig параметры создания сессии счёта
type SessionConfig struct {
	// BaseURL - REST endpoint connectivity-сервиса
	BaseURL string
	// StreamURL - WebSocket endpoint стрима терминала
	StreamURL string
	// AccountID - идентификатор счёта у брокера
	AccountID string
	// AuthToken - расшифрованный токен доступа
	AuthToken string

	// RequestsPerSecond - лимит REST запросов (default: 10)
	RequestsPerSecond float64

	HTTP   HTTPClientConfig
	Stream StreamConfig

	// EventBufferSize - ёмкость FIFO-канала событий (default: 256)
	EventBufferSize int
}

// session - реализация Session поверх REST + streaming WebSocket.
//
// Держит локальное зеркало состояния терминала (позиции, отложники,
// информация о счёте), обновляемое push-сообщениями стрима. Методы
// Positions/Orders/AccountInfo читают зеркало без сетевых вызовов.
type session struct {
	accountID string

	rest   *restClient
	stream *streamManager

	mu        sync.RWMutex
	positions map[string]PositionSnapshot
	orders    map[string]OrderSnapshot
	account   *AccountInformation

	events    chan Event
	eventsMu  sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession создаёт и подключает сессию счёта.
//
// Возвращает ошибку если стрим не удалось установить с первой попытки.
// Дальнейшие разрывы соединения сессия переживает сама.
func NewSession(cfg SessionConfig) (Session, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}

	limiter := ratelimit.NewRateLimiter(cfg.RequestsPerSecond, cfg.RequestsPerSecond*2)
	httpClient := NewHTTPClient(cfg.HTTP)

	s := &session{
		accountID: cfg.AccountID,
		rest:      newRESTClient(cfg.BaseURL, cfg.AccountID, cfg.AuthToken, httpClient, limiter),
		stream:    newStreamManager(cfg.AccountID, cfg.StreamURL, cfg.AuthToken, cfg.Stream),
		positions: make(map[string]PositionSnapshot),
		orders:    make(map[string]OrderSnapshot),
		events:    make(chan Event, cfg.EventBufferSize),
		closed:    make(chan struct{}),
	}

	s.stream.setOnMessage(s.handleStreamMessage)
	s.stream.setOnConnect(func() {
		s.emit(Event{Type: EventConnectionStatus, Status: StatusConnected})
	})
	s.stream.setOnDisconnect(func(err error) {
		s.emit(Event{Type: EventConnectionStatus, Status: StatusDisconnected})
	})
	s.stream.setOnClosed(func() {
		s.emit(Event{Type: EventStreamClosed})
	})

	if err := s.stream.connect(); err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("connect stream: %w", err)
	}

	return s, nil
}

// ============================================================
// Стрим терминала
// ============================================================

// Типы push-сообщений connectivity-сервиса
const (
	msgSyncStarted     = "synchronizationStarted"
	msgPositions       = "positions"
	msgPositionsUpdate = "positionsUpdated"
	msgOrders          = "pendingOrders"
	msgOrdersUpdate    = "pendingOrdersUpdated"
	msgAccountInfo     = "accountInformation"
	msgStatus          = "status"
	msgPrices          = "prices"
)

// streamMessage - push-сообщение стрима терминала
type streamMessage struct {
	Type string `json:"type"`

	// msgPositions: полная замена. msgPositionsUpdate: дельта.
	Positions          []PositionSnapshot `json:"positions,omitempty"`
	UpdatedPositions   []PositionSnapshot `json:"updatedPositions,omitempty"`
	RemovedPositionIDs []string           `json:"removedPositionIds,omitempty"`

	Orders            []OrderSnapshot `json:"orders,omitempty"`
	UpdatedOrders     []OrderSnapshot `json:"updatedOrders,omitempty"`
	CompletedOrderIDs []string        `json:"completedOrderIds,omitempty"`

	AccountInformation *AccountInformation `json:"accountInformation,omitempty"`

	Status string  `json:"status,omitempty"`
	Prices []Price `json:"prices,omitempty"`
}

// handleStreamMessage применяет push-сообщение к зеркалу и эмитит событие.
// Вызывается из goroutine чтения стрима, по одному сообщению за раз,
// поэтому порядок событий в канале совпадает с порядком сообщений.
func (s *session) handleStreamMessage(raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[broker %s] malformed stream message: %v", s.accountID, err)
		return
	}

	switch msg.Type {
	case msgSyncStarted:
		// Начало синхронизации: терминал пришлёт полные снапшоты следом
		s.emit(Event{Type: EventSyncStarted})

	case msgPositions:
		s.mu.Lock()
		s.positions = make(map[string]PositionSnapshot, len(msg.Positions))
		for _, p := range msg.Positions {
			s.positions[p.ID] = p
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventPositionsChanged})

	case msgPositionsUpdate:
		s.mu.Lock()
		for _, p := range msg.UpdatedPositions {
			s.positions[p.ID] = p
		}
		for _, id := range msg.RemovedPositionIDs {
			delete(s.positions, id)
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventPositionsChanged})

	case msgOrders:
		s.mu.Lock()
		s.orders = make(map[string]OrderSnapshot, len(msg.Orders))
		for _, o := range msg.Orders {
			s.orders[o.ID] = o
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventOrdersChanged})

	case msgOrdersUpdate:
		s.mu.Lock()
		for _, o := range msg.UpdatedOrders {
			s.orders[o.ID] = o
		}
		for _, id := range msg.CompletedOrderIDs {
			delete(s.orders, id)
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventOrdersChanged})

	case msgAccountInfo:
		if msg.AccountInformation != nil {
			s.mu.Lock()
			s.account = msg.AccountInformation
			s.mu.Unlock()
			s.emit(Event{Type: EventAccountInfoUpdated})
		}

	case msgStatus:
		s.emit(Event{Type: EventConnectionStatus, Status: msg.Status})

	case msgPrices:
		for i := range msg.Prices {
			price := msg.Prices[i]
			s.emit(Event{Type: EventPriceTick, Price: &price})
		}

	default:
		log.Printf("[broker %s] unknown stream message type %q", s.accountID, msg.Type)
	}
}

// emit кладёт событие в FIFO-канал.
// При переполнении буфера событие дропается с логом: зеркало уже
// обновлено, следующее событие того же типа доставит актуальный срез.
func (s *session) emit(ev Event) {
	// RLock исключает гонку с закрытием канала в Close
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.events <- ev:
	default:
		log.Printf("[broker %s] event buffer full, dropping %s", s.accountID, ev.Type)
	}
}

// ============================================================
// Session: чтение зеркала
// ============================================================

func (s *session) Positions() []PositionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PositionSnapshot, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	// Детерминированный порядок для обхода eviction'ом
	sort.Slice(out, func(i, j int) bool {
		return out[i].BrokerTime.Before(out[j].BrokerTime)
	})
	return out
}

func (s *session) Orders() []OrderSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OrderSnapshot, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BrokerTime.Before(out[j].BrokerTime)
	})
	return out
}

func (s *session) AccountInfo() *AccountInformation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.account == nil {
		return nil
	}
	copied := *s.account
	return &copied
}

// ============================================================
// Session: REST
// ============================================================

func (s *session) GetMarketPrice(ctx context.Context, symbol string) (Price, error) {
	return s.rest.getPrice(ctx, symbol)
}

func (s *session) GetAccountBalance(ctx context.Context) (float64, error) {
	info, err := s.rest.getAccountInformation(ctx)
	if err != nil {
		return 0, err
	}
	return info.Balance, nil
}

func (s *session) GetAccountInformation(ctx context.Context) (*AccountInformation, error) {
	return s.rest.getAccountInformation(ctx)
}

func (s *session) CreateOrder(ctx context.Context, spec OrderSpec) (*OrderConfirmation, error) {
	return s.rest.createOrder(ctx, spec)
}

func (s *session) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	return s.rest.modifyPosition(ctx, id, stopLoss, takeProfit)
}

func (s *session) ModifyOrder(ctx context.Context, id string, openPrice, stopLoss, takeProfit float64) error {
	return s.rest.modifyOrder(ctx, id, openPrice, stopLoss, takeProfit)
}

func (s *session) ClosePosition(ctx context.Context, id string) error {
	return s.rest.closePosition(ctx, id)
}

func (s *session) CancelOrder(ctx context.Context, id string) error {
	return s.rest.cancelOrder(ctx, id)
}

func (s *session) RecentDeals(ctx context.Context, limit int) ([]Deal, error) {
	return s.rest.getRecentDeals(ctx, limit)
}

func (s *session) RecentHistoryOrders(ctx context.Context, limit int) ([]HistoryOrder, error) {
	return s.rest.getRecentHistoryOrders(ctx, limit)
}

// ============================================================
// Session: подписки и жизненный цикл
// ============================================================

func (s *session) SubscribeMarketData(ctx context.Context, symbol string) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.stream.subscribe(symbol)
}

func (s *session) UnsubscribeMarketData(ctx context.Context, symbol string) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.stream.unsubscribe(symbol)
}

func (s *session) Events() <-chan Event {
	return s.events
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.close()
		s.rest.http.Close()

		s.eventsMu.Lock()
		close(s.closed)
		close(s.events)
		s.eventsMu.Unlock()
	})
	return err
}
