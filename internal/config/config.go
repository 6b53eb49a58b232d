// Пакет config — загрузка и валидация конфигурации Access Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Access Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- IdP / JWT ---

	// URL IdP (например, https://idp.example.lan)
	IDPURL string
	// Имя realm в IdP
	IDPRealm string
	// Issuer JWT (авто-вычисляется из IDPURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из IDPURL, если не задан)
	JWTJWKSURL string
	// Путь к CA-сертификату для TLS-соединений с IdP (опционально)
	IDPCACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Доступ ---

	// Срок действия одобренного доступа к PROTECTED-файлу.
	// Значения меньше 60s поднимаются сервисом до минимума.
	ProtectedAccessTTL time.Duration

	// --- Byte store ---

	// Каталог хранения зашифрованных блобов
	StorageDir string
	// Секрет для выведения ключа шифрования содержимого
	StorageSecret string

	// --- Кэш метаданных ---

	// Максимальное количество записей LRU-кэша
	CacheMaxSize int
	// TTL записи кэша
	CacheTTL time.Duration

	// --- Мониторинг ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках dephealth
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// ACM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("ACM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("ACM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ACM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// ACM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ACM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ACM_LOG_LEVEL: %w", err)
	}

	// ACM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ACM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ACM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// ACM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("ACM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// ACM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("ACM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ACM_DB_PORT: %w", err)
	}

	// ACM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("ACM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// ACM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("ACM_DB_USER")
	if err != nil {
		return nil, err
	}

	// ACM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("ACM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// ACM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("ACM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("ACM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- IdP / JWT ---

	// ACM_IDP_URL — обязательный
	cfg.IDPURL, err = getEnvRequired("ACM_IDP_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.IDPURL = strings.TrimRight(cfg.IDPURL, "/")

	// ACM_IDP_REALM — realm (по умолчанию securefileshare)
	cfg.IDPRealm = getEnvDefault("ACM_IDP_REALM", "securefileshare")

	// ACM_JWT_ISSUER — авто-вычисляется из IDPURL, если не задан
	cfg.JWTIssuer = getEnvDefault("ACM_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.IDPURL, cfg.IDPRealm))

	// ACM_JWT_JWKS_URL — авто-вычисляется из IDPURL, если не задан
	cfg.JWTJWKSURL = getEnvDefault("ACM_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.IDPURL, cfg.IDPRealm))

	// ACM_IDP_CA_CERT_PATH — путь к CA-сертификату IdP (опционально)
	cfg.IDPCACertPath = getEnvDefault("ACM_IDP_CA_CERT_PATH", "")

	// ACM_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("ACM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// ACM_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("ACM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ACM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// ACM_JWT_LEEWAY — допустимое отклонение времени JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("ACM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACM_JWT_LEEWAY: %w", err)
	}

	// --- Доступ ---

	// ACM_PROTECTED_ACCESS_TTL — срок действия одобренного доступа (по умолчанию 1h)
	cfg.ProtectedAccessTTL, err = getEnvDuration("ACM_PROTECTED_ACCESS_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ACM_PROTECTED_ACCESS_TTL: %w", err)
	}

	// --- Byte store ---

	// ACM_STORAGE_DIR — каталог блобов (по умолчанию /var/lib/access-module/blobs)
	cfg.StorageDir = getEnvDefault("ACM_STORAGE_DIR", "/var/lib/access-module/blobs")

	// ACM_STORAGE_SECRET — обязательный
	cfg.StorageSecret, err = getEnvRequired("ACM_STORAGE_SECRET")
	if err != nil {
		return nil, err
	}

	// --- Кэш метаданных ---

	// ACM_CACHE_MAX_SIZE — ёмкость LRU-кэша (по умолчанию 1024)
	cfg.CacheMaxSize, err = getEnvInt("ACM_CACHE_MAX_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("ACM_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("ACM_CACHE_MAX_SIZE: значение %d должно быть положительным", cfg.CacheMaxSize)
	}

	// ACM_CACHE_TTL — TTL записи кэша (по умолчанию 30s)
	cfg.CacheTTL, err = getEnvDuration("ACM_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACM_CACHE_TTL: %w", err)
	}

	// --- Мониторинг ---

	// ACM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("ACM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// ACM_DEPHEALTH_GROUP — имя группы в метриках (по умолчанию securefileshare)
	cfg.DephealthGroup = getEnvDefault("ACM_DEPHEALTH_GROUP", "securefileshare")

	// --- Graceful shutdown ---

	// ACM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ACM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL для лейблов метрик.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
