// Пакет config - загрузка и валидация конфигурации DNA Search
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

// Режимы передачи результата от движка поиска.
const (
	// EngineOutputFile - движок пишет JSON в файл, путь передаётся 4-м аргументом.
	EngineOutputFile = "file"
	// EngineOutputStdout - движок пишет JSON в stdout.
	EngineOutputStdout = "stdout"
)

// Config содержит все параметры конфигурации DNA Search.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения запроса (включая тело multipart)
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа (должен покрывать работу движка)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединения
	HTTPIdleTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint (RS256). Взаимоисключающий с JWTSecret.
	JWTJWKSURL string
	// Общий секрет HS256 (совместимость с существующим издателем токенов)
	JWTSecret string
	// Ожидаемый issuer (пусто - не проверяется)
	JWTIssuer string
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента для загрузки JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration

	// --- Загрузки и валидация CSV ---

	// Каталог для загруженных CSV
	UploadDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Строгий режим валидации (первая плохая строка прерывает загрузку)
	CSVStrict bool
	// Максимальная длина строки CSV в байтах
	CSVMaxLineSize int

	// --- Движок поиска ---

	// Путь к исполняемому файлу движка
	EnginePath string
	// Рабочий каталог движка (входные CSV и выходные JSON)
	EngineWorkDir string
	// Транспорт результата: file или stdout
	EngineOutput string
	// Предельное время работы движка
	EngineTimeout time.Duration
	// Удалять выходной JSON после разбора
	EngineCleanup bool
	// Предельный размер результата движка в байтах
	EngineMaxOutput int64

	// --- Кэш истории ---

	// Максимальное количество записей в LRU-кэше деталей поиска
	CacheMaxSize int
	// TTL записей кэша
	CacheTTL time.Duration

	// --- Topologymetrics ---

	// Включить метрики зависимостей
	DephealthEnabled bool
	// Группа сервиса в топологии
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

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

	// DS_PORT - порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DS_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	if err := loadLogging(cfg); err != nil {
		return nil, err
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DS_HTTP_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_HTTP_READ_TIMEOUT: %w", err)
	}

	// Запись ответа ждёт завершения движка, поэтому по умолчанию больше DS_ENGINE_TIMEOUT
	cfg.HTTPWriteTimeout, err = getEnvDuration("DS_HTTP_WRITE_TIMEOUT", 330*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("DS_JWT_JWKS_URL", "")
	cfg.JWTSecret = getEnvDefault("DS_JWT_SECRET", "")
	if cfg.JWTJWKSURL == "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("DS_JWT_JWKS_URL/DS_JWT_SECRET: необходимо задать одну из переменных")
	}
	if cfg.JWTJWKSURL != "" && cfg.JWTSecret != "" {
		return nil, fmt.Errorf("DS_JWT_JWKS_URL/DS_JWT_SECRET: допустима только одна из переменных")
	}

	cfg.JWTIssuer = getEnvDefault("DS_JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration("DS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("DS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("DS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Загрузки и валидация CSV ---

	cfg.UploadDir = getEnvDefault("DS_UPLOAD_DIR", "./uploads")

	maxUpload, err := getEnvInt("DS_MAX_UPLOAD_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DS_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("DS_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	cfg.CSVStrict, err = getEnvBool("DS_CSV_STRICT", false)
	if err != nil {
		return nil, fmt.Errorf("DS_CSV_STRICT: %w", err)
	}

	cfg.CSVMaxLineSize, err = getEnvInt("DS_CSV_MAX_LINE_SIZE", 1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DS_CSV_MAX_LINE_SIZE: %w", err)
	}
	if cfg.CSVMaxLineSize <= 0 {
		return nil, fmt.Errorf("DS_CSV_MAX_LINE_SIZE: значение должно быть > 0")
	}

	// --- Движок поиска ---

	cfg.EnginePath, err = getEnvRequired("DS_ENGINE_PATH")
	if err != nil {
		return nil, err
	}

	cfg.EngineWorkDir = getEnvDefault("DS_ENGINE_WORK_DIR", "./results")

	cfg.EngineOutput = strings.ToLower(getEnvDefault("DS_ENGINE_OUTPUT", EngineOutputFile))
	if cfg.EngineOutput != EngineOutputFile && cfg.EngineOutput != EngineOutputStdout {
		return nil, fmt.Errorf("DS_ENGINE_OUTPUT: недопустимое значение %q, допустимые: file, stdout", cfg.EngineOutput)
	}

	cfg.EngineTimeout, err = getEnvDuration("DS_ENGINE_TIMEOUT", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_ENGINE_TIMEOUT: %w", err)
	}
	if cfg.EngineTimeout <= 0 {
		return nil, fmt.Errorf("DS_ENGINE_TIMEOUT: значение должно быть > 0")
	}

	cfg.EngineCleanup, err = getEnvBool("DS_ENGINE_CLEANUP", false)
	if err != nil {
		return nil, fmt.Errorf("DS_ENGINE_CLEANUP: %w", err)
	}

	maxOutput, err := getEnvInt("DS_ENGINE_MAX_OUTPUT", 64*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DS_ENGINE_MAX_OUTPUT: %w", err)
	}
	if maxOutput <= 0 {
		return nil, fmt.Errorf("DS_ENGINE_MAX_OUTPUT: значение должно быть > 0")
	}
	cfg.EngineMaxOutput = int64(maxOutput)

	// --- Кэш истории ---

	cfg.CacheMaxSize, err = getEnvInt("DS_CACHE_MAX_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DS_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("DS_CACHE_MAX_SIZE: значение должно быть >= 1")
	}

	cfg.CacheTTL, err = getEnvDuration("DS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DS_CACHE_TTL: %w", err)
	}

	// --- Topologymetrics ---

	cfg.DephealthEnabled, err = getEnvBool("DS_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("DS_DEPHEALTH_ENABLED: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("DS_DEPHEALTH_GROUP", "dna-search")

	cfg.DephealthCheckInterval, err = getEnvDuration("DS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadDatabase загружает только параметры логирования и PostgreSQL.
// Используется командой migrate, которой не нужны движок и JWT.
func LoadDatabase() (*Config, error) {
	cfg := &Config{}
	if err := loadLogging(cfg); err != nil {
		return nil, err
	}
	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadLogging(cfg *Config) error {
	var err error

	// DS_LOG_LEVEL - уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DS_LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("DS_LOG_LEVEL: %w", err)
	}

	// DS_LOG_FORMAT - формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("DS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}
	return nil
}

func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("DS_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("DS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("DS_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("DS_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("DS_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("DS_DB_PASSWORD")
	if err != nil {
		return err
	}

	// DS_DB_SSL_MODE - режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("DS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных
// (для лейблов метрик зависимостей).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrationURL возвращает URL для golang-migrate (схема pgx5).
func (c *Config) MigrationURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
