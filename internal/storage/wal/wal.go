package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WAL — файловый Write-Ahead Log.
// Сначала создаётся запись со статусом pending и перечнем затрагиваемых
// ключей, затем выполняется операция, затем запись коммитится или
// откатывается. Pending записи, пережившие рестарт, обрабатывает
// восстановление при старте.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт WAL-движок. Создаёт директорию и проверяет,
// что она доступна для записи.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// StartTransaction создаёт новую WAL-запись со статусом pending.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (w *WAL) StartTransaction(op OperationType, target Target) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Target:        target,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("room", entry.RoomCode),
		slog.Int("keys", len(entry.StorageKeys)),
	)

	return entry, nil
}

// Commit помечает транзакцию как успешно завершённую.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback помечает транзакцию как отменённую.
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

// finish переводит pending транзакцию в конечный статус.
func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}

	if entry.Status != StatusPending {
		return fmt.Errorf("WAL-запись %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить WAL-запись %s: %w", txID, err)
	}

	w.logger.Debug("WAL транзакция завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)

	return nil
}

// RecoverPending находит и возвращает все WAL-записи со статусом pending.
// Вызывается при старте для обработки незавершённых транзакций.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
			w.logger.Warn("Обнаружена незавершённая WAL-транзакция",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("room", entry.RoomCode),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}

	return pending, nil
}

// GetTransaction читает WAL-запись по идентификатору транзакции.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readEntry(txID)
}

// CleanCommitted удаляет все завершённые (committed/rolled_back) WAL-записи.
func (w *WAL) CleanCommitted() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			continue
		}

		if entry.Status == StatusCommitted || entry.Status == StatusRolledBack {
			if err := os.Remove(path); err != nil {
				w.logger.Warn("Не удалось удалить завершённую WAL-запись",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		w.logger.Info("Очистка WAL завершена", slog.Int("cleaned", cleaned))
	}

	return cleaned, nil
}

// writeEntry атомарно записывает WAL-запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает WAL-запись из файла.
func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &entry, nil
}

// Dir возвращает путь к директории WAL.
func (w *WAL) Dir() string {
	return w.dir
}
