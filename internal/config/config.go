package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Broker   BrokerConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// Ключ AES-256 для шифрования API-токенов счетов (ровно 32 байта)
	EncryptionKey string
}

// BrokerConfig - endpoints connectivity-сервиса терминала.
//
// Шаблоны содержат placeholder {region}, который подставляется из
// настроек конкретного счёта (new-york, london, singapore).
type BrokerConfig struct {
	BaseURLTemplate   string
	StreamURLTemplate string

	// Лимит REST запросов к connectivity-сервису на одну сессию
	RequestsPerSecond float64
}

// BaseURLFor возвращает REST endpoint для региона счёта
func (b BrokerConfig) BaseURLFor(region string) string {
	return strings.ReplaceAll(b.BaseURLTemplate, "{region}", region)
}

// StreamURLFor возвращает WebSocket endpoint для региона счёта
func (b BrokerConfig) StreamURLFor(region string) string {
	return strings.ReplaceAll(b.StreamURLTemplate, "{region}", region)
}

// BotConfig - настройки торгового движка
type BotConfig struct {
	// Восстановление внешне закрытых сделок
	ReopenMaxAttempts int           // сколько раз сканировать историю (default: 10)
	ReopenInterval    time.Duration // пауза между сканированиями (default: 2s)
	HistoryScanDepth  int           // глубина одного сканирования (default: 20)

	// Корректирующие действия
	ActionTimeout time.Duration // таймаут одного вызова терминала

	// Периодические задачи
	DailyResetInterval time.Duration // проверка сброса дневного риска
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "algotrade"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Broker: BrokerConfig{
			BaseURLTemplate:   getEnv("BROKER_BASE_URL", "https://mt-client-api-v1.{region}.agiliumtrade.ai"),
			StreamURLTemplate: getEnv("BROKER_STREAM_URL", "wss://mt-client-api-v1.{region}.agiliumtrade.ai/ws"),
			RequestsPerSecond: getEnvAsFloat("BROKER_RPS", 10),
		},
		Bot: BotConfig{
			ReopenMaxAttempts: getEnvAsInt("REOPEN_MAX_ATTEMPTS", 10),
			ReopenInterval:    getEnvAsDuration("REOPEN_INTERVAL", 2*time.Second),
			HistoryScanDepth:  getEnvAsInt("HISTORY_SCAN_DEPTH", 20),

			ActionTimeout: getEnvAsDuration("ACTION_TIMEOUT", 30*time.Second),

			DailyResetInterval: getEnvAsDuration("DAILY_RESET_INTERVAL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования брокерских токенов
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting broker API tokens")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.BaseURLTemplate == "" || c.Broker.StreamURLTemplate == "" {
		return fmt.Errorf("BROKER_BASE_URL and BROKER_STREAM_URL must not be empty")
	}

	if c.Broker.RequestsPerSecond <= 0 {
		return fmt.Errorf("BROKER_RPS must be positive, got %v", c.Broker.RequestsPerSecond)
	}

	if c.Bot.ReopenMaxAttempts < 1 {
		return fmt.Errorf("REOPEN_MAX_ATTEMPTS must be at least 1, got %d", c.Bot.ReopenMaxAttempts)
	}

	if c.Bot.ReopenInterval <= 0 {
		return fmt.Errorf("REOPEN_INTERVAL must be positive, got %v", c.Bot.ReopenInterval)
	}

	if c.Bot.HistoryScanDepth < 1 {
		return fmt.Errorf("HISTORY_SCAN_DEPTH must be at least 1, got %d", c.Bot.HistoryScanDepth)
	}

	if c.Bot.ActionTimeout <= 0 {
		return fmt.Errorf("ACTION_TIMEOUT must be positive, got %v", c.Bot.ActionTimeout)
	}

	if c.Bot.DailyResetInterval < time.Minute {
		return fmt.Errorf("DAILY_RESET_INTERVAL must be at least 1m, got %v", c.Bot.DailyResetInterval)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
