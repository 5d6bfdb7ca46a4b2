// reconcile.go — фоновая сверка содержимого и метаданных комнат.
//
// Обнаруживает и устраняет:
//   - orphaned_blob: содержимое без записи о файле (старше SEW_ORPHAN_GRACE)
//   - missing_content: запись о файле без содержимого
//   - stale_temp: незавершённая запись содержимого
//
// Запускается как горутина с периодическим тикером (SEW_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

// Типы проблем сверки.
const (
	IssueOrphanedBlob   = "orphaned_blob"
	IssueMissingContent = "missing_content"
	IssueStaleTemp      = "stale_temp"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sew_reconcile_issues_total",
		Help: "Общее количество проблем, устранённых сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sew_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	BlobsChecked   int
	OrphanedBlobs  int
	MissingContent int
	StaleTemp      int
	WALCleaned     int
	Errors         int
	Duration       time.Duration
}

// ReconcileService — сервис фоновой сверки.
type ReconcileService struct {
	store     roomstore.Store
	files     *filestore.FileStore
	walEngine *wal.WAL
	interval  time.Duration
	grace     time.Duration
	now       roomstore.Clock
	logger    *slog.Logger

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	store roomstore.Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:     store,
		files:     files,
		walEngine: walEngine,
		interval:  interval,
		grace:     grace,
		now:       roomstore.SystemClock,
		logger:    logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("orphan_grace", rs.grace.String()),
	)
}

// Stop останавливает сверку и ждёт завершения текущего запуска.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет одну сверку.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	start := time.Now()
	rs.logger.Info("Сверка начата")

	result := rs.reconcile(ctx)
	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())
	reconcileIssuesTotal.WithLabelValues(IssueOrphanedBlob).Add(float64(result.OrphanedBlobs))
	reconcileIssuesTotal.WithLabelValues(IssueMissingContent).Add(float64(result.MissingContent))
	reconcileIssuesTotal.WithLabelValues(IssueStaleTemp).Add(float64(result.StaleTemp))

	rs.logger.Info("Сверка завершена",
		slog.Int("blobs_checked", result.BlobsChecked),
		slog.Int("orphaned_blobs", result.OrphanedBlobs),
		slog.Int("missing_content", result.MissingContent),
		slog.Int("stale_temp", result.StaleTemp),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, false
}

// reconcile сравнивает ссылки записей с содержимым на диске.
// Ссылки читаются раньше списка содержимого: запись появляется
// только после записи содержимого, поэтому ссылка без содержимого
// означает потерю, а не незавершённую загрузку.
func (rs *ReconcileService) reconcile(ctx context.Context) *ReconcileResult {
	result := &ReconcileResult{}
	cutoff := rs.now().Add(-rs.grace)

	refs, err := rs.store.FileRefs(ctx)
	if err != nil {
		rs.logger.Error("Ошибка чтения ссылок на содержимое",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	blobs, err := rs.files.List()
	if err != nil {
		rs.logger.Error("Ошибка чтения директории содержимого",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}
	result.BlobsChecked = len(blobs)

	referenced := make(map[string]bool, len(refs))
	for _, ref := range refs {
		referenced[ref.StorageKey] = true
	}
	present := make(map[string]bool, len(blobs))
	for _, blob := range blobs {
		present[blob.Key] = true
	}

	// 1. Содержимое без записи
	for _, blob := range blobs {
		if referenced[blob.Key] || !blob.ModTime.Before(cutoff) {
			continue
		}
		if err := rs.files.Remove(blob.Key); err != nil && !errors.Is(err, model.ErrNotFound) {
			rs.logger.Error("Ошибка удаления осиротевшего содержимого",
				slog.String("storage_key", blob.Key),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		rs.logger.Warn("Удалено содержимое без записи",
			slog.String("storage_key", blob.Key),
			slog.Time("mod_time", blob.ModTime),
		)
		result.OrphanedBlobs++
	}

	// 2. Записи без содержимого
	for _, ref := range refs {
		if present[ref.StorageKey] {
			continue
		}
		// Содержимое могло появиться после снимка списка
		if rs.files.Exists(ref.StorageKey) {
			continue
		}
		_, err := rs.store.RemoveFile(ctx, ref.RoomCode, ref.FileID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			rs.logger.Error("Ошибка удаления записи без содержимого",
				slog.String("code", ref.RoomCode),
				slog.String("file_id", ref.FileID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		rs.logger.Warn("Удалена запись без содержимого",
			slog.String("code", ref.RoomCode),
			slog.String("file_id", ref.FileID),
			slog.String("storage_key", ref.StorageKey),
		)
		result.MissingContent++
	}

	// 3. Незавершённые записи содержимого
	removed, err := rs.files.RemoveStaleTemp(cutoff)
	if err != nil {
		rs.logger.Error("Ошибка удаления временных файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.StaleTemp = removed

	// 4. Завершённые транзакции WAL
	cleaned, err := rs.walEngine.CleanCommitted()
	if err != nil {
		rs.logger.Error("Ошибка очистки WAL",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.WALCleaned = cleaned

	return result
}
