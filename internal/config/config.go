// Пакет config — загрузка и валидация конфигурации Sew
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые реализации RoomStore.
const (
	BackendFS       = "fs"
	BackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации Sew.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Директория содержимого загруженных файлов
	UploadDir string
	// Директория документов комнат (backend fs)
	DataDir string
	// Директория WAL
	WALDir string
	// Максимальный размер одного файла в байтах
	MaxFileSize int64
	// Максимальный размер тела запроса загрузки в байтах
	MaxUploadSize int64
	// Срок, после которого пустая комната удаляется
	RoomRetention time.Duration
	// Интервал запуска очистки комнат
	CleanupInterval time.Duration
	// Интервал сверки содержимого и метаданных
	ReconcileInterval time.Duration
	// Минимальный возраст файла без записи, после которого сверка его удаляет
	OrphanGrace time.Duration

	// Реализация RoomStore: fs или postgres
	RoomsBackend string
	// Параметры PostgreSQL (backend postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Размер LRU-кэша комнат перед PostgreSQL (0 — кэш выключен)
	RoomCacheSize int
	// Время жизни записи в кэше комнат
	RoomCacheTTL time.Duration

	// Разрешённый origin для CORS (пусто — CORS выключен)
	CORSOrigin string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// SEW_PORT — порт HTTP-сервера (по умолчанию 3000)
	cfg.Port, err = getEnvInt("SEW_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("SEW_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SEW_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.UploadDir = getEnvDefault("SEW_UPLOAD_DIR", "./uploads")
	cfg.DataDir = getEnvDefault("SEW_DATA_DIR", "./data")
	cfg.WALDir = getEnvDefault("SEW_WAL_DIR", cfg.DataDir+"/wal")

	// SEW_MAX_FILE_SIZE_MB — лимит одного файла в МиБ (по умолчанию 10)
	maxMB, err := getEnvInt64("SEW_MAX_FILE_SIZE_MB", 10)
	if err != nil {
		return nil, fmt.Errorf("SEW_MAX_FILE_SIZE_MB: %w", err)
	}
	if maxMB <= 0 {
		return nil, fmt.Errorf("SEW_MAX_FILE_SIZE_MB: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxMB << 20

	// SEW_MAX_UPLOAD_SIZE_MB — лимит тела запроса загрузки в МиБ (по умолчанию 100)
	uploadMB, err := getEnvInt64("SEW_MAX_UPLOAD_SIZE_MB", 100)
	if err != nil {
		return nil, fmt.Errorf("SEW_MAX_UPLOAD_SIZE_MB: %w", err)
	}
	if uploadMB < maxMB {
		return nil, fmt.Errorf("SEW_MAX_UPLOAD_SIZE_MB: значение %d меньше SEW_MAX_FILE_SIZE_MB (%d)", uploadMB, maxMB)
	}
	cfg.MaxUploadSize = uploadMB << 20

	// SEW_ROOM_RETENTION_DAYS — срок жизни пустой комнаты (по умолчанию 7)
	days, err := getEnvInt("SEW_ROOM_RETENTION_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("SEW_ROOM_RETENTION_DAYS: %w", err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("SEW_ROOM_RETENTION_DAYS: значение должно быть положительным")
	}
	cfg.RoomRetention = time.Duration(days) * 24 * time.Hour

	cfg.CleanupInterval, err = getEnvPositiveDuration("SEW_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.ReconcileInterval, err = getEnvPositiveDuration("SEW_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.OrphanGrace, err = getEnvPositiveDuration("SEW_ORPHAN_GRACE", time.Hour)
	if err != nil {
		return nil, err
	}

	// SEW_ROOMS_BACKEND — хранилище комнат (по умолчанию fs)
	cfg.RoomsBackend = getEnvDefault("SEW_ROOMS_BACKEND", BackendFS)
	if cfg.RoomsBackend != BackendFS && cfg.RoomsBackend != BackendPostgres {
		return nil, fmt.Errorf("SEW_ROOMS_BACKEND: недопустимое значение %q, допустимые: fs, postgres", cfg.RoomsBackend)
	}

	cfg.DBHost = getEnvDefault("SEW_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("SEW_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SEW_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("SEW_DB_NAME", "sew")
	cfg.DBUser = getEnvDefault("SEW_DB_USER", "sew")
	cfg.DBSSLMode = getEnvDefault("SEW_DB_SSL_MODE", "disable")
	if cfg.RoomsBackend == BackendPostgres {
		cfg.DBPassword, err = getEnvRequired("SEW_DB_PASSWORD")
		if err != nil {
			return nil, err
		}
	}

	cfg.RoomCacheSize, err = getEnvInt("SEW_ROOM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SEW_ROOM_CACHE_SIZE: %w", err)
	}
	if cfg.RoomCacheSize < 0 {
		return nil, fmt.Errorf("SEW_ROOM_CACHE_SIZE: значение не может быть отрицательным")
	}
	cfg.RoomCacheTTL, err = getEnvPositiveDuration("SEW_ROOM_CACHE_TTL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.CORSOrigin = getEnvDefault("SEW_CORS_ORIGIN", "")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SEW_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SEW_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("SEW_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SEW_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("SEW_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("SEW_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getEnvDefault("SEW_DEPHEALTH_GROUP", "sew")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL со схемой scheme
// (pgx5 для golang-migrate, postgres для меток topologymetrics).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
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

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveDuration читает длительность и требует, чтобы она была > 0.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", key, val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: длительность должна быть положительной, получено %s", key, d)
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
