package broker

import "context"

// Session определяет унифицированный интерфейс брокерской сессии одного счёта.
//
// Реализация (session.go в этом пакете) говорит с хостовым
// connectivity-сервисом брокера; сам венью-протокол остаётся на его стороне.
// Тесты подменяют Session фейком.
//
// Все сетевые вызовы принимают context и обязаны возвращать
// ErrBrokerUnavailable при таймауте, а не висеть.
type Session interface {
	// GetMarketPrice возвращает текущую котировку символа
	GetMarketPrice(ctx context.Context, symbol string) (Price, error)

	// GetAccountBalance возвращает текущий баланс счёта
	GetAccountBalance(ctx context.Context) (float64, error)

	// GetAccountInformation возвращает полную информацию о счёте
	GetAccountInformation(ctx context.Context) (*AccountInformation, error)

	// CreateOrder создаёт рыночный или отложенный ордер
	CreateOrder(ctx context.Context, spec OrderSpec) (*OrderConfirmation, error)

	// ModifyPosition меняет стоп-лосс и тейк-профит открытой позиции
	ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error

	// ModifyOrder меняет цену входа, стоп-лосс и тейк-профит отложенного ордера
	ModifyOrder(ctx context.Context, id string, openPrice, stopLoss, takeProfit float64) error

	// ClosePosition закрывает открытую позицию
	ClosePosition(ctx context.Context, id string) error

	// CancelOrder отменяет отложенный ордер
	CancelOrder(ctx context.Context, id string) error

	// SubscribeMarketData подписывается на поток котировок символа
	SubscribeMarketData(ctx context.Context, symbol string) error

	// UnsubscribeMarketData отписывается от потока котировок символа
	UnsubscribeMarketData(ctx context.Context, symbol string) error

	// Positions возвращает текущее состояние открытых позиций терминала.
	// Читает локальное зеркало стрима, без сетевого запроса.
	Positions() []PositionSnapshot

	// Orders возвращает текущее состояние отложенных ордеров терминала
	Orders() []OrderSnapshot

	// AccountInfo возвращает последнее известное состояние счёта из стрима
	AccountInfo() *AccountInformation

	// RecentDeals возвращает последние сделки из истории (новые первыми)
	RecentDeals(ctx context.Context, limit int) ([]Deal, error)

	// RecentHistoryOrders возвращает последние ордера из истории (новые первыми)
	RecentHistoryOrders(ctx context.Context, limit int) ([]HistoryOrder, error)

	// Events возвращает FIFO-канал push-событий терминала.
	// Канал закрывается при Close.
	Events() <-chan Event

	// Close завершает сессию и освобождает соединения
	Close() error
}

// EventType - тип push-события от брокерского сервиса
type EventType int

const (
	// EventSyncStarted - начальная синхронизация состояния терминала
	EventSyncStarted EventType = iota
	// EventPositionsChanged - позиции обновлены или заменены
	EventPositionsChanged
	// EventOrdersChanged - отложенные ордера обновлены или заменены
	EventOrdersChanged
	// EventAccountInfoUpdated - обновлена информация о счёте
	EventAccountInfoUpdated
	// EventConnectionStatus - изменился статус подключения к брокеру
	EventConnectionStatus
	// EventStreamClosed - стрим закрыт сервисом
	EventStreamClosed
	// EventPriceTick - котировка по подписанному символу
	EventPriceTick
)

func (t EventType) String() string {
	switch t {
	case EventSyncStarted:
		return "syncStarted"
	case EventPositionsChanged:
		return "positionsChanged"
	case EventOrdersChanged:
		return "ordersChanged"
	case EventAccountInfoUpdated:
		return "accountInfoUpdated"
	case EventConnectionStatus:
		return "connectionStatus"
	case EventStreamClosed:
		return "streamClosed"
	case EventPriceTick:
		return "priceTick"
	}
	return "unknown"
}

// Статусы подключения в EventConnectionStatus
const (
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
)

// Event - одно push-событие терминала.
//
// Порядок событий в канале FIFO; движок потребляет их строго
// последовательно для одного счёта.
type Event struct {
	Type   EventType
	Status string // для EventConnectionStatus
	Price  *Price // для EventPriceTick
}
