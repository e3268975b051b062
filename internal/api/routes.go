package api

import (
	"net/http"

	"algotrade/internal/api/handlers"
	"algotrade/internal/api/middleware"
	"algotrade/internal/service"
	"algotrade/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	AccountService service.AccountServiceInterface
	TradingService service.TradingServiceInterface
	Hub            *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	└── /accounts/
//	    ├── POST / - привязка нового счёта
//	    ├── GET /{owner} - список счетов владельца
//	    ├── GET /{owner}/{account_id} - конкретный счёт
//	    ├── PATCH /{owner}/{account_id} - изменение настроек
//	    ├── DELETE /{owner}/{account_id} - отвязка счёта
//	    ├── POST /{owner}/{account_id}/connect - подключение к терминалу
//	    ├── DELETE /{owner}/{account_id}/connect - отключение
//	    ├── POST /{owner}/{account_id}/orders/verify - dry-run проверка заявки
//	    ├── POST /{owner}/{account_id}/orders - размещение заявки
//	    ├── POST /{owner}/{account_id}/symbols/{symbol} - подписка на котировки
//	    └── DELETE /{owner}/{account_id}/symbols/{symbol} - отписка
//
// /ws/
//
//	└── /live/{account_id} - WebSocket со снимками позиций и котировками
//
// /metrics - Prometheus метрики
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
//
// Идентификация владельца живёт во внешней системе, поэтому auth
// middleware на бизнес-маршрутах нет: сервис доверяет параметру owner.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var accountHandler *handlers.AccountHandler
	if deps != nil && deps.AccountService != nil {
		accountHandler = handlers.NewAccountHandler(deps.AccountService)
	}

	var orderHandler *handlers.OrderHandler
	if deps != nil && deps.TradingService != nil {
		orderHandler = handlers.NewOrderHandler(deps.TradingService)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Статический токен сервиса (no-op без SERVICE_TOKEN_HASH)
	api.Use(middleware.ServiceToken)

	// Account routes
	if accountHandler != nil {
		api.HandleFunc("/accounts", accountHandler.RegisterAccount).Methods("POST")
		api.HandleFunc("/accounts/{owner}", accountHandler.GetAccounts).Methods("GET")
		api.HandleFunc("/accounts/{owner}/{account_id}", accountHandler.GetAccount).Methods("GET")
		api.HandleFunc("/accounts/{owner}/{account_id}", accountHandler.UpdateAccount).Methods("PATCH")
		api.HandleFunc("/accounts/{owner}/{account_id}", accountHandler.RemoveAccount).Methods("DELETE")
		api.HandleFunc("/accounts/{owner}/{account_id}/connect", accountHandler.ConnectAccount).Methods("POST")
		api.HandleFunc("/accounts/{owner}/{account_id}/connect", accountHandler.DisconnectAccount).Methods("DELETE")
	}

	// Order routes
	if orderHandler != nil {
		api.HandleFunc("/accounts/{owner}/{account_id}/orders/verify", orderHandler.VerifyOrder).Methods("POST")
		api.HandleFunc("/accounts/{owner}/{account_id}/orders", orderHandler.PlaceOrder).Methods("POST")
		api.HandleFunc("/accounts/{owner}/{account_id}/symbols/{symbol}", orderHandler.SubscribeSymbol).Methods("POST")
		api.HandleFunc("/accounts/{owner}/{account_id}/symbols/{symbol}", orderHandler.UnsubscribeSymbol).Methods("DELETE")
	}

	// WebSocket route: комната совпадает с брокерским account_id,
	// hub кладёт liveData и price сообщения счёта в его комнату
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/live/{account_id}", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, mux.Vars(r)["account_id"], w, r)
		}).Methods("GET")
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
