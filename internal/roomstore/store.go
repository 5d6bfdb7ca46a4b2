// Пакет roomstore — контракт хранилища комнат и общие примитивы
// его реализаций (fsstore, pgstore, cached).
//
// Все мутации одной комнаты сериализуются: AppendFiles, RemoveFile
// и удаление комнаты при очистке не выполняются параллельно.
// Find может выполняться одновременно с мутациями и видит либо
// состояние до мутации, либо после.
package roomstore

import (
	"context"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
)

// Store — хранилище комнат.
type Store interface {
	// Create создаёт пустую комнату. Занятый код — model.ErrConflict.
	Create(ctx context.Context, code string) (*model.Room, error)
	// Find возвращает комнату без обновления LastAccessed.
	// Отсутствующая комната — model.ErrNotFound.
	Find(ctx context.Context, code string) (*model.Room, error)
	// AppendFiles добавляет записи в конец списка файлов и обновляет LastAccessed.
	AppendFiles(ctx context.Context, code string, records []model.FileRecord) (*model.Room, error)
	// RemoveFile удаляет одну запись и обновляет LastAccessed.
	// Возвращает удалённую запись. Нет комнаты или файла — model.ErrNotFound.
	RemoveFile(ctx context.Context, code, fileID string) (*model.FileRecord, error)
	// SweepStale удаляет пустые комнаты, не изменявшиеся дольше retention.
	// Возвращает количество удалённых комнат.
	SweepStale(ctx context.Context, retention time.Duration) (int, error)
	// FileRefs возвращает ссылки всех записей на содержимое.
	FileRefs(ctx context.Context) ([]model.FileRef, error)
	// Count возвращает количество комнат.
	Count(ctx context.Context) (int, error)
}

// Clock — источник текущего времени. Подменяется в тестах.
type Clock func() time.Time

// SystemClock возвращает текущее время в UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
