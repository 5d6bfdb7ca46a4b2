// Пакет database — PostgreSQL для хранилища комнат Sew (SEW_ROOMS_BACKEND=postgres).
//
// Схема — две таблицы: rooms (код, время создания и последнего изменения)
// и room_files (записи о файлах в порядке загрузки). Миграции встроены
// в бинарник и применяются при старте до открытия пула.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DevM15/Sew/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// readyTimeout — предел одной проверки готовности.
const readyTimeout = 3 * time.Second

// Connect открывает пул к базе комнат. Пул, не ответивший на ping,
// закрывается: Sew не стартует без хранилища комнат.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("DSN базы комнат: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("пул базы комнат: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база комнат %s:%d недоступна: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("База комнат подключена",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate доводит схему rooms/room_files до последней версии.
// Уже актуальная схема — не ошибка.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("встроенные миграции: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL("pgx5"))
	if err != nil {
		return fmt.Errorf("инициализация миграций: %w", err)
	}
	defer m.Close()

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("миграция схемы комнат: %w", upErr)
	}

	version, dirty, _ := m.Version()
	logger.Info("Схема комнат актуальна",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
		slog.Bool("changed", upErr == nil),
	)
	return nil
}

// ReadinessChecker сообщает /health/ready о состоянии базы комнат:
// соединение живо и таблица rooms существует.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady возвращает "ok" или "fail" с сообщением.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	var rooms *string
	if err := c.pool.QueryRow(ctx, `SELECT to_regclass('public.rooms')::text`).Scan(&rooms); err != nil {
		return "fail", fmt.Sprintf("база комнат недоступна: %v", err)
	}
	if rooms == nil {
		return "fail", "таблица rooms отсутствует, миграции не применены"
	}
	return "ok", "база комнат доступна"
}
