// cleanup.go — фоновая очистка устаревших пустых комнат.
//
// Запускается как горутина с периодическим тикером (SEW_CLEANUP_INTERVAL).
// Запуски не накладываются: тик, пришедший во время очистки, пропускается.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DevM15/Sew/internal/roomstore"
)

// Prometheus метрики очистки
var (
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_cleanup_runs_total",
		Help: "Общее количество запусков очистки комнат",
	})

	cleanupSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_cleanup_skipped_total",
		Help: "Количество пропущенных запусков (предыдущий ещё выполнялся)",
	})

	cleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_cleanup_failures_total",
		Help: "Количество запусков очистки, завершившихся ошибкой",
	})

	roomsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_rooms_removed_total",
		Help: "Общее количество комнат, удалённых очисткой",
	})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sew_cleanup_duration_seconds",
		Help:    "Длительность очистки комнат в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// Removed — количество удалённых комнат
	Removed int
	// Err — ошибка очистки (часть комнат могла быть удалена)
	Err error
	// Duration — длительность выполнения
	Duration time.Duration
}

// CleanupScheduler — планировщик очистки комнат.
type CleanupScheduler struct {
	store     roomstore.Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	inProgress bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewCleanupScheduler создаёт планировщик очистки.
func NewCleanupScheduler(
	store roomstore.Store,
	interval time.Duration,
	retention time.Duration,
	logger *slog.Logger,
) *CleanupScheduler {
	return &CleanupScheduler{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "cleanup")),
	}
}

// Start запускает фоновую горутину очистки.
// Первый запуск выполняется сразу.
func (c *CleanupScheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx)

	c.logger.Info("Очистка комнат запущена",
		slog.String("interval", c.interval.String()),
		slog.String("retention", c.retention.String()),
	)
}

// Stop останавливает очистку и ждёт завершения текущего запуска.
func (c *CleanupScheduler) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.logger.Info("Очистка комнат остановлена")
}

func (c *CleanupScheduler) run(ctx context.Context) {
	defer close(c.done)

	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет одну очистку.
// Если очистка уже выполняется, возвращает nil, true.
func (c *CleanupScheduler) RunOnce(ctx context.Context) (*CleanupResult, bool) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		cleanupSkippedTotal.Inc()
		c.logger.Warn("Очистка уже выполняется, пропуск")
		return nil, true
	}
	c.inProgress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	start := time.Now()
	removed, err := c.store.SweepStale(ctx, c.retention)
	result := &CleanupResult{
		Removed:  removed,
		Err:      err,
		Duration: time.Since(start),
	}

	cleanupRunsTotal.Inc()
	roomsRemovedTotal.Add(float64(removed))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	if err != nil {
		cleanupFailuresTotal.Inc()
		c.logger.Error("Ошибка очистки комнат",
			slog.Int("removed", removed),
			slog.String("error", err.Error()),
		)
		return result, false
	}

	c.logger.Info("Очистка комнат завершена",
		slog.Int("removed", removed),
		slog.Duration("duration", result.Duration),
	)
	return result, false
}
