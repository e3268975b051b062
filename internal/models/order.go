package models

// Направление сделки
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket = "Market"
	OrderTypeStop   = "Stop"
	OrderTypeLimit  = "Limit"
)

// ValidSide проверяет направление сделки.
func ValidSide(side string) bool {
	return side == SideBuy || side == SideSell
}

// ValidOrderType проверяет тип ордера.
func ValidOrderType(orderType string) bool {
	return orderType == OrderTypeMarket || orderType == OrderTypeStop || orderType == OrderTypeLimit
}

// OrderRequest - входящий запрос на открытие сделки.
//
// Живёт только на время вызова verify/place, нигде не сохраняется.
// LotSize обязателен при выключенном авторасчёте объёма; EntryPrice
// обязателен для Stop/Limit ордеров.
type OrderRequest struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`       // buy / sell
	OrderType   string    `json:"order_type"` // Market / Stop / Limit
	LotSize     *float64  `json:"lot_size,omitempty"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"` // 1..splittingTarget целей
	EntryPrice  *float64  `json:"entry_price,omitempty"`
	Comment     string    `json:"comment,omitempty"`
}

// LegCount возвращает число тейк-профит частей запроса.
func (r *OrderRequest) LegCount() int {
	if len(r.TakeProfits) == 0 {
		return 1
	}
	return len(r.TakeProfits)
}

// VerifiedOrder - результат проверки запроса без побочных эффектов.
//
// Используется и как ответ dry-run верификации, и как непосредственный
// предшественник живого размещения. Request-scoped, не персистится.
type VerifiedOrder struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	OrderType   string    `json:"order_type"`
	Quantity    float64   `json:"quantity"` // итоговый объём (>= 0.01)
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
	EntryPrice  *float64  `json:"entry_price,omitempty"`
	Comment     string    `json:"comment"` // уже прошедший санитизацию

	MaxLoss   float64 `json:"max_loss"`
	MaxProfit float64 `json:"max_profit"`
}

// LegOutcome - результат одной части разбитого ордера.
type LegOutcome struct {
	TakeProfit float64 `json:"take_profit"`
	Volume     float64 `json:"volume"`
	OrderID    string  `json:"order_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// OrderResult - итог размещения ордера (одного или нескольких legs).
//
// При частичном провале мульти-leg размещения содержит полный список
// результатов по каждой части: уже размещённые legs не откатываются.
type OrderResult struct {
	Message string       `json:"message"`
	Legs    []LegOutcome `json:"legs"`
	Placed  int          `json:"placed"`
	Failed  int          `json:"failed"`
}
