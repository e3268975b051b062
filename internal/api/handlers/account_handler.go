package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"algotrade/internal/service"

	"github.com/gorilla/mux"
)

// AccountHandler отвечает за управление брокерскими счетами
//
// Endpoints:
// - POST /api/v1/accounts                                    - привязка нового счёта
// - GET /api/v1/accounts/{owner}                             - список счетов владельца
// - GET /api/v1/accounts/{owner}/{account_id}                - конкретный счёт
// - PATCH /api/v1/accounts/{owner}/{account_id}              - изменение настроек
// - DELETE /api/v1/accounts/{owner}/{account_id}             - отвязка счёта
// - POST /api/v1/accounts/{owner}/{account_id}/connect       - подключение к терминалу
// - DELETE /api/v1/accounts/{owner}/{account_id}/connect     - отключение от терминала
type AccountHandler struct {
	accountService service.AccountServiceInterface
}

// NewAccountHandler создает новый AccountHandler с внедрением зависимостей
func NewAccountHandler(accountService service.AccountServiceInterface) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// RegisterAccount привязывает новый брокерский счёт
// POST /api/v1/accounts
//
// Request Body:
//
//	{
//	  "owner": "user-1",
//	  "account_id": "acct-1",
//	  "api_token": "...",
//	  "region": "new-york",
//	  "max_position_limit": 5,
//	  "splitting_target": 3,
//	  "risk_percentage": 1.0,
//	  "auto_lot_size": true,
//	  "daily_risk_percentage": 2.0,
//	  "timezone": "Asia/Dubai"
//	}
//
// Response:
// - 201 Created: счёт привязан (токен в ответ не попадает)
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: счёт уже зарегистрирован
func (h *AccountHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if req.Owner == "" {
		h.respondWithError(w, http.StatusBadRequest, "missing_owner", "Owner is required", "")
		return
	}

	account, err := h.accountService.RegisterAccount(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, account)
}

// GetAccounts возвращает все счета владельца
// GET /api/v1/accounts/{owner}
//
// Response:
// - 200 OK: массив счетов (возможно пустой)
func (h *AccountHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	accounts, err := h.accountService.GetAccounts(r.Context(), vars["owner"])
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to get accounts", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusOK, accounts)
}

// GetAccount возвращает конкретный счёт
// GET /api/v1/accounts/{owner}/{account_id}
//
// Response:
// - 200 OK: данные счёта
// - 404 Not Found: счёт не найден
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	account, err := h.accountService.GetAccount(r.Context(), vars["owner"], vars["account_id"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, account)
}

// UpdateAccount изменяет настройки счёта
// PATCH /api/v1/accounts/{owner}/{account_id}
//
// Request Body (все поля опциональны):
//
//	{
//	  "max_position_limit": 10,
//	  "daily_risk_percentage": 3.0
//	}
//
// Смена api_token или region пересоздаёт брокерскую сессию.
//
// Response:
// - 200 OK: обновлённый счёт
// - 400 Bad Request: невалидные параметры
// - 404 Not Found: счёт не найден
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req service.UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	account, err := h.accountService.UpdateAccount(r.Context(), vars["owner"], vars["account_id"], &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, account)
}

// RemoveAccount отвязывает счёт и останавливает его процесс
// DELETE /api/v1/accounts/{owner}/{account_id}
//
// Response:
// - 204 No Content: счёт удалён
// - 404 Not Found: счёт не найден
func (h *AccountHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.accountService.RemoveAccount(r.Context(), vars["owner"], vars["account_id"]); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConnectAccount подключает счёт к терминалу
// POST /api/v1/accounts/{owner}/{account_id}/connect
//
// Response:
// - 200 OK: счёт подключен
// - 404 Not Found: счёт не найден
// - 502 Bad Gateway: терминал недоступен
func (h *AccountHandler) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.accountService.ConnectAccount(r.Context(), vars["owner"], vars["account_id"]); err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.handleServiceError(w, err)
			return
		}
		h.respondWithError(w, http.StatusBadGateway, "connect_failed", "Failed to connect account to terminal", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "account connected"})
}

// DisconnectAccount отключает счёт от терминала, запись остаётся
// DELETE /api/v1/accounts/{owner}/{account_id}/connect
//
// Response:
// - 200 OK: счёт отключен
// - 404 Not Found: счёт не найден
func (h *AccountHandler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.accountService.DisconnectAccount(r.Context(), vars["owner"], vars["account_id"]); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "account disconnected"})
}

// ============ Helper методы ============

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *AccountHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		h.respondWithError(w, http.StatusNotFound, "account_not_found", "Account not found", "")

	case errors.Is(err, service.ErrAccountAlreadyExists):
		h.respondWithError(w, http.StatusConflict, "account_exists", "Account is already registered", "")

	case errors.Is(err, service.ErrInvalidAccountID):
		h.respondWithError(w, http.StatusBadRequest, "invalid_account_id", "Broker account id is required", "")

	case errors.Is(err, service.ErrInvalidAPIToken):
		h.respondWithError(w, http.StatusBadRequest, "invalid_api_token", "API token is required", "")

	case errors.Is(err, service.ErrInvalidPositionLimit):
		h.respondWithError(w, http.StatusBadRequest, "invalid_position_limit", "Max position limit must be at least 1", "")

	case errors.Is(err, service.ErrInvalidSplitting):
		h.respondWithError(w, http.StatusBadRequest, "invalid_splitting_target", "Splitting target must be at least 1", "")

	case errors.Is(err, service.ErrInvalidRiskPct):
		h.respondWithError(w, http.StatusBadRequest, "invalid_risk_percentage", "Risk percentage must be between 0 and 100", "")

	case errors.Is(err, service.ErrInvalidTimezone):
		h.respondWithError(w, http.StatusBadRequest, "invalid_timezone", "Unknown IANA timezone", "")

	default:
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// respondWithJSON отправляет JSON ответ
func (h *AccountHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *AccountHandler) respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	response := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.respondWithJSON(w, statusCode, response)
}
