package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// allKeys — все переменные SEW_*, которые читает Load.
var allKeys = []string{
	"SEW_PORT", "SEW_UPLOAD_DIR", "SEW_DATA_DIR", "SEW_WAL_DIR",
	"SEW_MAX_FILE_SIZE_MB", "SEW_MAX_UPLOAD_SIZE_MB", "SEW_ROOM_RETENTION_DAYS",
	"SEW_CLEANUP_INTERVAL", "SEW_RECONCILE_INTERVAL", "SEW_ORPHAN_GRACE",
	"SEW_ROOMS_BACKEND", "SEW_DB_HOST", "SEW_DB_PORT", "SEW_DB_NAME",
	"SEW_DB_USER", "SEW_DB_PASSWORD", "SEW_DB_SSL_MODE",
	"SEW_ROOM_CACHE_SIZE", "SEW_ROOM_CACHE_TTL", "SEW_CORS_ORIGIN",
	"SEW_LOG_LEVEL", "SEW_LOG_FORMAT", "SEW_SHUTDOWN_TIMEOUT",
	"SEW_DEPHEALTH_CHECK_INTERVAL", "SEW_DEPHEALTH_GROUP",
}

// clearEnv сбрасывает все SEW_* переменные на время теста.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port: хотели 3000, получили %d", cfg.Port)
	}
	if cfg.MaxFileSize != 10<<20 {
		t.Errorf("MaxFileSize: хотели %d, получили %d", 10<<20, cfg.MaxFileSize)
	}
	if cfg.MaxUploadSize != 100<<20 {
		t.Errorf("MaxUploadSize: хотели %d, получили %d", 100<<20, cfg.MaxUploadSize)
	}
	if cfg.RoomRetention != 7*24*time.Hour {
		t.Errorf("RoomRetention: хотели 168h, получили %s", cfg.RoomRetention)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval: хотели 1h, получили %s", cfg.CleanupInterval)
	}
	if cfg.RoomsBackend != BackendFS {
		t.Errorf("RoomsBackend: хотели fs, получили %s", cfg.RoomsBackend)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: хотели info, получили %v", cfg.LogLevel)
	}
	if cfg.WALDir != "./data/wal" {
		t.Errorf("WALDir: хотели ./data/wal, получили %s", cfg.WALDir)
	}
	if cfg.CORSOrigin != "" {
		t.Errorf("CORSOrigin: ожидалась пустая строка, получено %q", cfg.CORSOrigin)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEW_PORT", "8080")
	t.Setenv("SEW_MAX_FILE_SIZE_MB", "25")
	t.Setenv("SEW_ROOM_RETENTION_DAYS", "3")
	t.Setenv("SEW_CLEANUP_INTERVAL", "15m")
	t.Setenv("SEW_LOG_LEVEL", "debug")
	t.Setenv("SEW_LOG_FORMAT", "text")
	t.Setenv("SEW_CORS_ORIGIN", "https://sew.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: хотели 8080, получили %d", cfg.Port)
	}
	if cfg.MaxFileSize != 25<<20 {
		t.Errorf("MaxFileSize: хотели %d, получили %d", 25<<20, cfg.MaxFileSize)
	}
	if cfg.RoomRetention != 72*time.Hour {
		t.Errorf("RoomRetention: хотели 72h, получили %s", cfg.RoomRetention)
	}
	if cfg.CleanupInterval != 15*time.Minute {
		t.Errorf("CleanupInterval: хотели 15m, получили %s", cfg.CleanupInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: хотели debug, получили %v", cfg.LogLevel)
	}
	if cfg.CORSOrigin != "https://sew.example.com" {
		t.Errorf("CORSOrigin: получено %q", cfg.CORSOrigin)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantSub string
	}{
		{"порт не число", "SEW_PORT", "abc", "SEW_PORT"},
		{"порт вне диапазона", "SEW_PORT", "70000", "SEW_PORT"},
		{"нулевой лимит", "SEW_MAX_FILE_SIZE_MB", "0", "SEW_MAX_FILE_SIZE_MB"},
		{"лимит запроса меньше лимита файла", "SEW_MAX_UPLOAD_SIZE_MB", "5", "SEW_MAX_UPLOAD_SIZE_MB"},
		{"отрицательный срок", "SEW_ROOM_RETENTION_DAYS", "-1", "SEW_ROOM_RETENTION_DAYS"},
		{"некорректный интервал", "SEW_CLEANUP_INTERVAL", "часто", "SEW_CLEANUP_INTERVAL"},
		{"нулевой интервал", "SEW_CLEANUP_INTERVAL", "0s", "SEW_CLEANUP_INTERVAL"},
		{"неизвестный backend", "SEW_ROOMS_BACKEND", "mongo", "SEW_ROOMS_BACKEND"},
		{"неизвестный уровень", "SEW_LOG_LEVEL", "trace", "SEW_LOG_LEVEL"},
		{"неизвестный формат", "SEW_LOG_FORMAT", "xml", "SEW_LOG_FORMAT"},
		{"отрицательный кэш", "SEW_ROOM_CACHE_SIZE", "-5", "SEW_ROOM_CACHE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("ошибка %q не содержит %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestLoad_PostgresRequiresPassword(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEW_ROOMS_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка без SEW_DB_PASSWORD")
	}

	t.Setenv("SEW_DB_PASSWORD", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.RoomsBackend != BackendPostgres {
		t.Errorf("RoomsBackend: получено %s", cfg.RoomsBackend)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBHost:     "db",
		DBPort:     5433,
		DBName:     "sew",
		DBUser:     "sew",
		DBPassword: "p@ss/word",
		DBSSLMode:  "disable",
	}

	got := cfg.DatabaseURL("pgx5")
	want := "pgx5://sew:p%40ss%2Fword@db:5433/sew?sslmode=disable"
	if got != want {
		t.Errorf("хотели %s, получили %s", want, got)
	}
}
