package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"algotrade/internal/api"
	"algotrade/internal/bot"
	"algotrade/internal/broker"
	"algotrade/internal/config"
	"algotrade/internal/models"
	"algotrade/internal/repository"
	"algotrade/internal/service"
	"algotrade/internal/websocket"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database (%s)", cfg.Database.DSNWithoutPassword())

	// Инициализация репозиториев
	accountRepo := repository.NewAccountRepository(db)

	// WebSocket hub для live-трансляции состояния счетов
	hub := websocket.NewHub()
	go hub.Run()

	// Торговый движок: по одному процессу реконсиляции на счёт
	engine := bot.NewEngine(accountRepo, hub, bot.EngineConfig{
		Reconciler: bot.ReconcilerConfig{
			ReopenMaxAttempts: cfg.Bot.ReopenMaxAttempts,
			ReopenInterval:    cfg.Bot.ReopenInterval,
			HistoryScanDepth:  cfg.Bot.HistoryScanDepth,
			ActionTimeout:     cfg.Bot.ActionTimeout,
		},
		DailyResetInterval: cfg.Bot.DailyResetInterval,
	})
	engine.Start()

	// Инициализация сервисов
	sessions := &sessionFactory{broker: cfg.Broker}
	accountService := service.NewAccountService(
		accountRepo,
		engine,
		sessions,
		cfg.Security.EncryptionKey,
	)
	tradingService := service.NewTradingService(accountRepo, engine)

	// Переподключение зарегистрированных счетов после рестарта.
	// Провалы отдельных счетов логируются внутри и не валят процесс.
	reconnectCtx, cancelReconnect := context.WithTimeout(context.Background(), time.Minute)
	if err := accountService.ReconnectAll(reconnectCtx); err != nil {
		log.Printf("Failed to reconnect accounts: %v", err)
	}
	cancelReconnect()

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		AccountService: accountService,
		TradingService: tradingService,
		Hub:            hub,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server failed: %v", err)
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server failed: %v", err)
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Останавливаем торговлю до остановки HTTP: движок закрывает
	// брокерские сессии всех счетов
	engine.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// sessionFactory собирает брокерскую сессию из конфигурации
// connectivity-сервиса и региона счёта
type sessionFactory struct {
	broker config.BrokerConfig
}

func (f *sessionFactory) NewSession(ctx context.Context, account *models.AccountConfig, apiToken string) (broker.Session, error) {
	return broker.NewSession(broker.SessionConfig{
		BaseURL:           f.broker.BaseURLFor(account.Region),
		StreamURL:         f.broker.StreamURLFor(account.Region),
		AccountID:         account.AccountID,
		AuthToken:         apiToken,
		RequestsPerSecond: f.broker.RequestsPerSecond,
		HTTP:              broker.DefaultHTTPClientConfig(),
		Stream:            broker.DefaultStreamConfig(),
	})
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
