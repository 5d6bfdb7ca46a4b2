// recovery.go — восстановление после сбоя по незавершённым WAL-транзакциям.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	// Pending — найдено незавершённых транзакций
	Pending int
	// BlobsRemoved — удалено содержимого незавершённых загрузок
	BlobsRemoved int
	// RecordsRemoved — удалено записей незавершённых удалений
	RecordsRemoved int
	// TempRemoved — удалено временных файлов
	TempRemoved int
	// Failed — транзакций, оставшихся pending из-за ошибок
	Failed int
}

// Recover обрабатывает pending-транзакции WAL. Вызывается при старте
// до приёма запросов.
//
//   - upload_batch: содержимое, на которое не ссылается комната,
//     удаляется; транзакция откатывается. Если записи успели попасть
//     в комнату, транзакция фиксируется.
//   - file_delete: удаление доводится до конца (содержимое, затем запись).
func Recover(
	ctx context.Context,
	store roomstore.Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) (*RecoveryResult, error) {
	logger = logger.With(slog.String("component", "recovery"))

	// Запросы ещё не принимаются: любой temp файл брошен
	tempRemoved, err := files.RemoveStaleTemp(time.Now().Add(time.Second))
	if err != nil {
		return nil, err
	}

	pending, err := walEngine.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	result := &RecoveryResult{Pending: len(pending), TempRemoved: tempRemoved}
	if len(pending) > 0 {
		logger.Warn("Обнаружены незавершённые WAL-транзакции",
			slog.Int("count", len(pending)),
		)
	}

	for _, entry := range pending {
		var err error
		switch entry.Operation {
		case wal.OpUploadBatch:
			err = recoverUpload(ctx, store, files, walEngine, entry, result)
		case wal.OpFileDelete:
			err = recoverDelete(ctx, store, files, walEngine, entry, result)
		default:
			err = fmt.Errorf("неизвестная операция %q", entry.Operation)
		}
		if err != nil {
			result.Failed++
			logger.Error("Не удалось восстановить WAL-транзакцию",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("code", entry.RoomCode),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("WAL-транзакция восстановлена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("code", entry.RoomCode),
		)
	}

	if _, err := walEngine.CleanCommitted(); err != nil {
		logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	}

	return result, nil
}

func recoverUpload(
	ctx context.Context,
	store roomstore.Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	entry *wal.Entry,
	result *RecoveryResult,
) error {
	referenced := make(map[string]bool)
	room, err := store.Find(ctx, entry.RoomCode)
	switch {
	case err == nil:
		for _, f := range room.Files {
			referenced[f.StorageKey] = true
		}
	case errors.Is(err, model.ErrNotFound):
		// Комната удалена: всё содержимое пакета осиротело
	default:
		return err
	}

	committed := false
	for _, key := range entry.StorageKeys {
		if referenced[key] {
			committed = true
			continue
		}
		if err := files.Remove(key); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return err
		}
		result.BlobsRemoved++
	}

	if committed {
		return walEngine.Commit(entry.TransactionID)
	}
	return walEngine.Rollback(entry.TransactionID)
}

func recoverDelete(
	ctx context.Context,
	store roomstore.Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	entry *wal.Entry,
	result *RecoveryResult,
) error {
	for _, key := range entry.StorageKeys {
		if err := files.Remove(key); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}

	_, err := store.RemoveFile(ctx, entry.RoomCode, entry.FileID)
	switch {
	case err == nil:
		result.RecordsRemoved++
	case errors.Is(err, model.ErrNotFound):
	default:
		return err
	}

	return walEngine.Commit(entry.TransactionID)
}
