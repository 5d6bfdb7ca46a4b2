// dephealth.go — мониторинг базы комнат через topologymetrics.
//
// Работает только с backend postgres: SQL-проверка идёт через тот же pgxpool,
// что и запросы хранилища комнат, поэтому отражает именно его состояние.
// База комнат — критическая зависимость: без неё Sew не обслуживает запросы.
//
// Метрики app_dependency_health и app_dependency_latency_seconds
// отдаются на /metrics рядом с метриками sew_*.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// roomsDependency — имя зависимости в метриках и ключах Health.
const roomsDependency = "postgresql"

// DephealthConfig — параметры мониторинга базы комнат.
type DephealthConfig struct {
	// ServiceID — имя Sew в графе зависимостей
	ServiceID string
	// Group — SEW_DEPHEALTH_GROUP
	Group string
	// DatabaseURL задаёт лейблы host/port, подключение идёт через пул
	DatabaseURL string
	// CheckInterval — SEW_DEPHEALTH_CHECK_INTERVAL
	CheckInterval time.Duration
	// Registerer — registry метрик, nil — глобальный
	Registerer prometheus.Registerer
}

// DephealthService периодически проверяет базу комнат.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService настраивает проверку базы комнат поверх db,
// полученного из пула через stdlib.OpenDBFromPool.
func NewDephealthService(cfg DephealthConfig, db *sql.DB, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(roomsDependency, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(cfg.DatabaseURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг базы комнат запущен")
	return nil
}

func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг базы комнат остановлен")
}

// Health — последнее состояние проверок, ключ "postgresql:host:port".
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
