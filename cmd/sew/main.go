// Точка входа Sew — сервис обмена PDF-файлами через комнаты с коротким кодом.
// Загружает конфигурацию, открывает хранилище комнат (fs или PostgreSQL),
// восстанавливает незавершённые WAL-транзакции, запускает очистку комнат,
// сверку содержимого, HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/DevM15/Sew/internal/api/handlers"
	"github.com/DevM15/Sew/internal/config"
	"github.com/DevM15/Sew/internal/database"
	"github.com/DevM15/Sew/internal/roomcode"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/roomstore/cached"
	"github.com/DevM15/Sew/internal/roomstore/fsstore"
	"github.com/DevM15/Sew/internal/roomstore/pgstore"
	"github.com/DevM15/Sew/internal/server"
	"github.com/DevM15/Sew/internal/service"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

// backend — открытое хранилище комнат и связанные ресурсы.
type backend struct {
	store   roomstore.Store
	checker handlers.ReadinessChecker
	pool    *pgxpool.Pool
	sqlDB   *sql.DB
}

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Sew запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("rooms_backend", cfg.RoomsBackend),
	)

	ctx := context.Background()

	// 3. Хранилище содержимого и WAL
	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
		os.Exit(1)
	}
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Хранилище комнат
	rooms, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища комнат", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Восстановление после сбоя, до приёма запросов
	recovery, err := service.Recover(ctx, rooms.store, files, walEngine, logger)
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Восстановление завершено",
		slog.Int("pending", recovery.Pending),
		slog.Int("blobs_removed", recovery.BlobsRemoved),
		slog.Int("records_removed", recovery.RecordsRemoved),
		slog.Int("temp_removed", recovery.TempRemoved),
		slog.Int("failed", recovery.Failed),
	)

	// 6. Сервисы
	codes, err := roomcode.New(service.RoomExists(rooms.store), logger)
	if err != nil {
		logger.Error("Ошибка создания генератора кодов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	roomSvc := service.NewRoomService(rooms.store, codes, files, walEngine, logger)
	uploadSvc := service.NewUploadService(rooms.store, files, walEngine, cfg.MaxFileSize, logger)

	// 7. Фоновые задачи
	cleanup := service.NewCleanupScheduler(rooms.store, cfg.CleanupInterval, cfg.RoomRetention, logger)
	cleanup.Start(ctx)

	reconciler := service.NewReconcileService(rooms.store, files, walEngine, cfg.ReconcileInterval, cfg.OrphanGrace, logger)
	reconciler.Start(ctx)

	// 7.1 topologymetrics — только для PostgreSQL
	var dephealthSvc *service.DephealthService
	if rooms.sqlDB != nil {
		dephealthSvc = startDephealth(ctx, cfg, rooms.sqlDB, logger)
	}

	// 8. HTTP API
	apiHandler := handlers.NewAPIHandler(
		handlers.NewRoomsHandler(roomSvc, logger),
		handlers.NewFilesHandler(roomSvc, uploadSvc, cfg.MaxUploadSize, logger),
		handlers.NewDownloadsHandler(roomSvc, logger),
		handlers.NewHealthHandler(cfg.UploadDir, cfg.WALDir, rooms.checker),
	)
	srv := server.New(cfg, logger, apiHandler)
	serverErr := srv.Start()

	go func() {
		if err, ok := <-serverErr; ok && err != nil {
			logger.Error("HTTP-сервер завершился с ошибкой", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// 9. Graceful shutdown: сначала HTTP, затем фоновые задачи, затем БД
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"sew": func(shutdownCtx context.Context) error {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Ошибка остановки HTTP-сервера", slog.String("error", err.Error()))
			}

			cleanup.Stop()
			reconciler.Stop()
			if dephealthSvc != nil {
				dephealthSvc.Stop()
			}

			if rooms.sqlDB != nil {
				_ = rooms.sqlDB.Close()
			}
			if rooms.pool != nil {
				rooms.pool.Close()
			}
			logger.Info("Sew остановлен")
			return nil
		},
	})

	exitCode := <-wait
	os.Exit(exitCode)
}

// openBackend открывает хранилище комнат, выбранное SEW_ROOMS_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.RoomsBackend != config.BackendPostgres {
		store, err := fsstore.New(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Load(); err != nil {
			return nil, err
		}
		return &backend{store: store, checker: store}, nil
	}

	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var store roomstore.Store = pgstore.New(pool, logger)
	if cfg.RoomCacheSize > 0 {
		store = cached.New(store, cfg.RoomCacheSize, cfg.RoomCacheTTL)
		logger.Info("Кэш комнат включён",
			slog.Int("size", cfg.RoomCacheSize),
			slog.Duration("ttl", cfg.RoomCacheTTL),
		)
	}

	return &backend{
		store:   store,
		checker: database.NewReadinessChecker(pool),
		pool:    pool,
		// Проверки topologymetrics идут через тот же пул соединений
		sqlDB: stdlib.OpenDBFromPool(pool),
	}, nil
}

// startDephealth запускает мониторинг PostgreSQL. Ошибки не фатальны.
func startDephealth(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) *service.DephealthService {
	svc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "sew",
		Group:         cfg.DephealthGroup,
		DatabaseURL:   cfg.DatabaseURL("postgres"),
		CheckInterval: cfg.DephealthCheckInterval,
	}, db, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.Duration("check_interval", cfg.DephealthCheckInterval),
	)
	return svc
}
