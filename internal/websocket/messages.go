package websocket

// ============ Типизированные сообщения (без map[string]interface{}) ============
// Известные типы сериализуются без рефлексии по map-ключам

// LiveDataMessage - проекция состояния счёта после прохода реконсиляции
type LiveDataMessage struct {
	Type    string      `json:"type"`
	Account string      `json:"account"`
	Data    interface{} `json:"data"`
}

// PriceMessage - тик котировки по подписанному символу
type PriceMessage struct {
	Type    string  `json:"type"`
	Account string  `json:"account"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
}

// AccountStatusMessage - смена статуса подключения счёта к терминалу
type AccountStatusMessage struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	Status  string `json:"status"`
}

// Типы исходящих сообщений
const (
	messageTypeLiveData      = "liveData"
	messageTypePrice         = "price"
	messageTypeAccountStatus = "accountStatus"
)
