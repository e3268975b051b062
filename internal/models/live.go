package models

// live.go - отфильтрованные проекции состояния терминала для live-трансляции.
//
// Поля повторяют снапшоты брокера, но без внутреннего брокерского жаргона
// (POSITION_TYPE_BUY -> BUY и т.п.). Формируются движком реконсиляции и
// отправляются в real-time транспорт как есть.

// LivePosition - открытая позиция в UI-безопасном виде
type LivePosition struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // BUY / SELL
	Symbol     string  `json:"symbol"`
	BrokerTime string  `json:"broker_time"`
	OpenPrice  float64 `json:"open_price"`
	Volume     float64 `json:"volume"`
	Comment    string  `json:"broker_comment"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	LiveProfit float64 `json:"live_profit"`
}

// LivePendingOrder - отложенный ордер в UI-безопасном виде
type LivePendingOrder struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // BUY_LIMIT / SELL_LIMIT / BUY_STOP / SELL_STOP
	Symbol     string  `json:"symbol"`
	Time       string  `json:"time"`
	OpenPrice  float64 `json:"open_price"`
	Volume     float64 `json:"current_volume"`
	Comment    string  `json:"broker_comment"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// LiveAccountInfo - информация о счёте в UI-безопасном виде
type LiveAccountInfo struct {
	Platform    string  `json:"platform"`
	Type        string  `json:"type"`
	Broker      string  `json:"broker"`
	Currency    string  `json:"currency"`
	Server      string  `json:"server"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	Leverage    int     `json:"leverage"`
	MarginLevel float64 `json:"margin_level"`
	Name        string  `json:"name"`
	Login       string  `json:"login"`
}

// PriceQuote - котировка символа для live-трансляции
type PriceQuote struct {
	AccountID string  `json:"account_id"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// LiveData - полная проекция состояния счёта для одного события трансляции
type LiveData struct {
	AccountID          string             `json:"account_id"`
	Positions          []LivePosition     `json:"positions"`
	PendingOrders      []LivePendingOrder `json:"pending_orders"`
	AccountInformation *LiveAccountInfo   `json:"account_information,omitempty"`
}
