// Пакет service — бизнес-логика Sew: комнаты, загрузка файлов,
// фоновая очистка, сверка хранилищ и восстановление после сбоя.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomcode"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

// maxCreateAttempts — предел повторов создания комнаты при конфликте кода.
const maxCreateAttempts = 10

var (
	roomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_rooms_created_total",
		Help: "Общее количество созданных комнат",
	})

	filesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_files_deleted_total",
		Help: "Общее количество удалённых пользователями файлов",
	})
)

// RoomExists возвращает ExistsFunc для генератора кодов поверх store.
func RoomExists(store roomstore.Store) roomcode.ExistsFunc {
	return func(ctx context.Context, code string) (bool, error) {
		_, err := store.Find(ctx, code)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, model.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// RoomService — операции над комнатами и их файлами.
type RoomService struct {
	store     roomstore.Store
	codes     *roomcode.Generator
	files     *filestore.FileStore
	walEngine *wal.WAL
	logger    *slog.Logger
}

// NewRoomService создаёт сервис комнат.
func NewRoomService(
	store roomstore.Store,
	codes *roomcode.Generator,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *RoomService {
	return &RoomService{
		store:     store,
		codes:     codes,
		files:     files,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "room_service")),
	}
}

// CreateRoom создаёт комнату со свободным кодом.
// Конфликт при вставке (код занят между проверкой и созданием)
// не возвращается наружу: код генерируется заново.
func (s *RoomService) CreateRoom(ctx context.Context) (*model.Room, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return nil, err
		}

		room, err := s.store.Create(ctx, code)
		if err == nil {
			roomsCreatedTotal.Inc()
			s.logger.Info("Комната создана", slog.String("code", code))
			return room, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, err
		}

		s.logger.Warn("Конфликт кода при создании комнаты, повтор",
			slog.String("code", code),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w: не удалось создать комнату за %d попыток", model.ErrStorage, maxCreateAttempts)
}

// ListFiles возвращает файлы комнаты в порядке загрузки.
func (s *RoomService) ListFiles(ctx context.Context, rawCode string) ([]model.FileRecord, error) {
	code, err := model.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}

	room, err := s.store.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	return room.Files, nil
}

// DeleteFile удаляет файл комнаты: сначала содержимое, затем запись.
// Отсутствие содержимого считается уже выполненным удалением.
// Операция записывается в WAL: если запись не удалось удалить,
// восстановление при старте завершит её.
func (s *RoomService) DeleteFile(ctx context.Context, rawCode, fileID string) error {
	code, err := model.NormalizeCode(rawCode)
	if err != nil {
		return err
	}

	room, err := s.store.Find(ctx, code)
	if err != nil {
		return err
	}
	i := room.FileIndex(fileID)
	if i < 0 {
		return fmt.Errorf("%w: файл %s в комнате %s", model.ErrNotFound, fileID, code)
	}
	rec := room.Files[i]

	walEntry, err := s.walEngine.StartTransaction(wal.OpFileDelete, wal.Target{
		RoomCode:    code,
		FileID:      rec.ID,
		StorageKeys: []string{rec.StorageKey},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	if err := s.files.Remove(rec.StorageKey); err != nil && !errors.Is(err, model.ErrNotFound) {
		rollbackWAL(s.walEngine, s.logger, walEntry.TransactionID)
		s.logger.Error("Ошибка удаления содержимого",
			slog.String("code", code),
			slog.String("storage_key", rec.StorageKey),
			slog.String("error", err.Error()),
		)
		return err
	}

	if _, err := s.store.RemoveFile(ctx, code, rec.ID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Запись уже удалена параллельно (сверка или другой запрос),
			// содержимого тоже нет: удаление состоялось
			commitWAL(s.walEngine, s.logger, walEntry.TransactionID)
			s.logger.Info("Запись о файле уже удалена",
				slog.String("code", code),
				slog.String("file_id", rec.ID),
			)
			return nil
		}
		// WAL остаётся pending: запись будет удалена при восстановлении
		s.logger.Error("Ошибка удаления записи о файле",
			slog.String("code", code),
			slog.String("file_id", rec.ID),
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("error", err.Error()),
		)
		return err
	}

	commitWAL(s.walEngine, s.logger, walEntry.TransactionID)
	filesDeletedTotal.Inc()

	s.logger.Info("Файл удалён",
		slog.String("code", code),
		slog.String("file_id", rec.ID),
		slog.String("storage_key", rec.StorageKey),
	)
	return nil
}

// OpenContent открывает содержимое по ключу для скачивания.
func (s *RoomService) OpenContent(key string) (*filestore.Content, error) {
	return s.files.Open(key)
}

// commitWAL фиксирует транзакцию WAL. Ошибка только логируется:
// операция уже выполнена, незакрытая запись будет обработана при старте.
func commitWAL(w *wal.WAL, logger *slog.Logger, txID string) {
	if err := w.Commit(txID); err != nil {
		logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func rollbackWAL(w *wal.WAL, logger *slog.Logger, txID string) {
	if err := w.Rollback(txID); err != nil {
		logger.Error("Ошибка отката WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
