package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"algotrade/internal/bot"
	"algotrade/internal/models"
	"algotrade/internal/service"

	"github.com/gorilla/mux"
)

// OrderHandler отвечает за проверку и размещение заявок
//
// Endpoints:
// - POST /api/v1/accounts/{owner}/{account_id}/orders/verify       - dry-run проверка заявки
// - POST /api/v1/accounts/{owner}/{account_id}/orders              - размещение заявки
// - POST /api/v1/accounts/{owner}/{account_id}/symbols/{symbol}    - подписка на котировки
// - DELETE /api/v1/accounts/{owner}/{account_id}/symbols/{symbol}  - отписка от котировок
type OrderHandler struct {
	tradingService service.TradingServiceInterface
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимостей
func NewOrderHandler(tradingService service.TradingServiceInterface) *OrderHandler {
	return &OrderHandler{
		tradingService: tradingService,
	}
}

// VerifyOrder проверяет заявку без размещения
// POST /api/v1/accounts/{owner}/{account_id}/orders/verify
//
// Request Body:
//
//	{
//	  "symbol": "XAUUSD",
//	  "side": "buy",
//	  "order_type": "Market",
//	  "stop_loss": 1940.0,
//	  "take_profits": [1960.0, 1980.0],
//	  "comment": "breakout"
//	}
//
// Response:
// - 200 OK: рассчитанный объём, max_loss и max_profit
// - 400 Bad Request: заявка не проходит валидацию
// - 404 Not Found: счёт не найден
// - 409 Conflict: счёт не подключен к терминалу
func (h *OrderHandler) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	verified, err := h.tradingService.VerifyOrder(r.Context(), vars["owner"], vars["account_id"], &req)
	if err != nil {
		h.handleTradingError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, verified)
}

// PlaceOrder проверяет и размещает заявку
// POST /api/v1/accounts/{owner}/{account_id}/orders
//
// Тело запроса такое же, как у verify. При splitting_target > 1 и
// нескольких take_profits заявка разбивается на несколько частей;
// ответ содержит результат каждой части отдельно.
//
// Response:
// - 201 Created: все части размещены
// - 207 Multi-Status: часть legs размещена, часть провалилась
// - 400 Bad Request: заявка не проходит валидацию
// - 404 Not Found: счёт не найден
// - 409 Conflict: превышен дневной риск или нет свободных слотов
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	result, err := h.tradingService.PlaceOrder(r.Context(), vars["owner"], vars["account_id"], &req)
	if err != nil {
		h.handleTradingError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	h.respondWithJSON(w, status, result)
}

// SubscribeSymbol включает стрим котировок символа для счёта
// POST /api/v1/accounts/{owner}/{account_id}/symbols/{symbol}
//
// Response:
// - 200 OK: подписка активна
// - 404 Not Found: счёт не найден
// - 409 Conflict: счёт не подключен к терминалу
func (h *OrderHandler) SubscribeSymbol(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.tradingService.SubscribeSymbol(r.Context(), vars["owner"], vars["account_id"], vars["symbol"]); err != nil {
		h.handleTradingError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "subscribed to " + vars["symbol"]})
}

// UnsubscribeSymbol выключает стрим котировок символа
// DELETE /api/v1/accounts/{owner}/{account_id}/symbols/{symbol}
//
// Response:
// - 200 OK: подписка снята
// - 404 Not Found: счёт не найден
func (h *OrderHandler) UnsubscribeSymbol(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.tradingService.UnsubscribeSymbol(r.Context(), vars["owner"], vars["account_id"], vars["symbol"]); err != nil {
		h.handleTradingError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "unsubscribed from " + vars["symbol"]})
}

// ============ Helper методы ============

// handleTradingError обрабатывает ошибки от торгового сервиса и движка
func (h *OrderHandler) handleTradingError(w http.ResponseWriter, err error) {
	var validationErr *bot.ValidationError

	switch {
	case errors.As(err, &validationErr):
		h.respondWithError(w, http.StatusBadRequest, "validation_failed", "Order validation failed", validationErr.Error())

	case errors.Is(err, service.ErrAccountNotFound):
		h.respondWithError(w, http.StatusNotFound, "account_not_found", "Account not found", "")

	case errors.Is(err, bot.ErrAccountNotConnected):
		h.respondWithError(w, http.StatusConflict, "account_not_connected", "Account is not connected to the terminal", "")

	case errors.Is(err, bot.ErrDailyRiskExceeded):
		h.respondWithError(w, http.StatusConflict, "daily_risk_exceeded", "Order risk exceeds the remaining daily budget", "")

	case errors.Is(err, bot.ErrCapacityUnavailable):
		h.respondWithError(w, http.StatusConflict, "capacity_unavailable", "Not enough free position slots", "")

	case errors.Is(err, bot.ErrInvalidStopDistance):
		h.respondWithError(w, http.StatusBadRequest, "invalid_stop_distance", "Stop loss must differ from the market price", "")

	default:
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// respondWithJSON отправляет JSON ответ
func (h *OrderHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *OrderHandler) respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	response := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.respondWithJSON(w, statusCode, response)
}
