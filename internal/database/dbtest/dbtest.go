// Пакет dbtest — запуск PostgreSQL в Docker для интеграционных тестов.
package dbtest

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/DevM15/Sew/internal/config"
)

// StartPostgres запускает PostgreSQL через testcontainers и возвращает
// конфигурацию для подключения к нему. Тест пропускается, если
// TEST_INTEGRATION не установлена.
func StartPostgres(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("sew_test"),
		postgres.WithUsername("sew"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("SEW_ROOMS_BACKEND", config.BackendPostgres)
	t.Setenv("SEW_DB_HOST", host)
	t.Setenv("SEW_DB_PORT", port.Port())
	t.Setenv("SEW_DB_NAME", "sew_test")
	t.Setenv("SEW_DB_USER", "sew")
	t.Setenv("SEW_DB_PASSWORD", "test-password")
	t.Setenv("SEW_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// Pool открывает пул к cfg и закрывает его по завершении теста.
func Pool(t *testing.T, cfg *config.Config) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN())
	if err != nil {
		t.Fatalf("Не удалось создать пул: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Logger возвращает логгер, пишущий только ошибки.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
