package broker

import "time"

// types.go - снапшоты состояния терминала, приходящие от брокерского
// connectivity-сервиса. Имена значений повторяют протокол сервиса
// (MetaTrader-совместимые строковые коды), наружу ядро их не отдаёт.

// Price - текущая котировка символа
type Price struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Типы позиций
const (
	PositionTypeBuy  = "POSITION_TYPE_BUY"
	PositionTypeSell = "POSITION_TYPE_SELL"
)

// Причины появления позиций/ордеров
const (
	PositionReasonExpert = "POSITION_REASON_EXPERT"
	OrderReasonExpert    = "ORDER_REASON_EXPERT"
)

// Типы отложенных ордеров
const (
	OrderTypeBuyLimit  = "ORDER_TYPE_BUY_LIMIT"
	OrderTypeSellLimit = "ORDER_TYPE_SELL_LIMIT"
	OrderTypeBuyStop   = "ORDER_TYPE_BUY_STOP"
	OrderTypeSellStop  = "ORDER_TYPE_SELL_STOP"
)

// Состояния ордеров в истории
const (
	OrderStateCanceled = "ORDER_STATE_CANCELED"
	OrderStateFilled   = "ORDER_STATE_FILLED"
)

// Типы и причины сделок (deals) в истории
const (
	DealEntryIn  = "DEAL_ENTRY_IN"
	DealEntryOut = "DEAL_ENTRY_OUT"

	DealReasonSL     = "DEAL_REASON_SL"
	DealReasonTP     = "DEAL_REASON_TP"
	DealReasonExpert = "DEAL_REASON_EXPERT"
	DealReasonMargin = "DEAL_REASON_MARGIN"
)

// PositionSnapshot - открытая позиция по данным брокера
type PositionSnapshot struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	Type       string    `json:"type"` // POSITION_TYPE_BUY / POSITION_TYPE_SELL
	Symbol     string    `json:"symbol"`
	OpenPrice  float64   `json:"openPrice"`
	Volume     float64   `json:"volume"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	Profit     float64   `json:"profit"` // нереализованный PNL
	Comment    string    `json:"comment"`
	ClientID   string    `json:"clientId"`
	Reason     string    `json:"reason"`
	BrokerTime time.Time `json:"brokerTime"`
}

// OrderSnapshot - отложенный ордер по данным брокера
type OrderSnapshot struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"` // ORDER_TYPE_*_LIMIT / ORDER_TYPE_*_STOP
	Symbol        string    `json:"symbol"`
	OpenPrice     float64   `json:"openPrice"`
	CurrentVolume float64   `json:"currentVolume"`
	StopLoss      float64   `json:"stopLoss"`
	TakeProfit    float64   `json:"takeProfit"`
	Comment       string    `json:"comment"`
	ClientID      string    `json:"clientId"`
	Reason        string    `json:"reason"`
	BrokerTime    time.Time `json:"brokerTime"`
}

// AccountInformation - состояние счёта по данным брокера
type AccountInformation struct {
	Platform    string  `json:"platform"`
	Type        string  `json:"type"`
	Broker      string  `json:"broker"`
	Currency    string  `json:"currency"`
	Server      string  `json:"server"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	Credit      float64 `json:"credit"`
	FreeMargin  float64 `json:"freeMargin"`
	Leverage    int     `json:"leverage"`
	MarginLevel float64 `json:"marginLevel"`
	MarginMode  string  `json:"marginMode"`
	Name        string  `json:"name"`
	Login       string  `json:"login"`
}

// Deal - запись истории сделок (для сканирования при reopen)
type Deal struct {
	ID         string    `json:"id"`
	PositionID string    `json:"positionId"`
	Type       string    `json:"type"`      // DEAL_TYPE_BUY / DEAL_TYPE_SELL
	EntryType  string    `json:"entryType"` // DEAL_ENTRY_IN / DEAL_ENTRY_OUT
	Reason     string    `json:"reason"`
	Symbol     string    `json:"symbol"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	Comment    string    `json:"comment"`
	ClientID   string    `json:"clientId"`
	Time       time.Time `json:"time"`
}

// HistoryOrder - запись истории ордеров (для reopen отменённых отложников)
type HistoryOrder struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	State         string    `json:"state"` // ORDER_STATE_*
	Symbol        string    `json:"symbol"`
	OpenPrice     float64   `json:"openPrice"`
	CurrentVolume float64   `json:"currentVolume"`
	StopLoss      float64   `json:"stopLoss"`
	TakeProfit    float64   `json:"takeProfit"`
	Comment       string    `json:"comment"`
	ClientID      string    `json:"clientId"`
	Time          time.Time `json:"time"`
}

// IsPending сообщает, относится ли тип ордера к отложенным.
func IsPending(orderType string) bool {
	switch orderType {
	case OrderTypeBuyLimit, OrderTypeSellLimit, OrderTypeBuyStop, OrderTypeSellStop:
		return true
	}
	return false
}

// OrderSpec - параметры создания ордера через брокерскую сессию.
//
// Price обязателен для отложенных ордеров (Stop/Limit) и игнорируется
// для рыночных.
type OrderSpec struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`      // buy / sell
	OrderType  string  `json:"orderType"` // Market / Stop / Limit
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	Comment    string  `json:"comment,omitempty"`
	ClientID   string  `json:"clientId,omitempty"`
}

// OrderConfirmation - подтверждение приёма ордера брокером
type OrderConfirmation struct {
	OrderID    string `json:"orderId"`
	PositionID string `json:"positionId,omitempty"`
	Code       string `json:"stringCode,omitempty"`
}
