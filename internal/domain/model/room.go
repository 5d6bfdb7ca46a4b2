// Пакет model — доменные модели Sew: комната, запись о файле
// и ошибки доменного уровня.
package model

import (
	"time"
)

// PDFMimeType — единственный допустимый MIME-тип загружаемых файлов.
const PDFMimeType = "application/pdf"

// FileRecord — метаданные одного загруженного файла.
// JSON-формат совпадает с ответом API: storageKey отдаётся как filename.
type FileRecord struct {
	// ID — идентификатор записи (UUID v4), адресует удаление
	ID string `json:"id"`

	// StorageKey — ключ содержимого в ContentStore.
	// Не зависит от имени, присланного пользователем.
	StorageKey string `json:"filename"`

	// OriginalName — имя файла при загрузке, только для отображения
	OriginalName string `json:"originalName"`

	// Size — фактически записанный размер в байтах
	Size int64 `json:"size"`

	// MimeType — MIME-тип (всегда application/pdf)
	MimeType string `json:"mimetype"`

	// UploadDate — время загрузки (UTC)
	UploadDate time.Time `json:"uploadDate"`
}

// Room — комната, адресуемая кодом. Владеет упорядоченным списком файлов.
type Room struct {
	// Code — 6 символов [A-Z0-9], единственный секрет доступа
	Code string `json:"code"`

	// Files — файлы в порядке загрузки
	Files []FileRecord `json:"files"`

	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"createdAt"`

	// LastAccessed — время последней мутации, сигнал для очистки
	LastAccessed time.Time `json:"lastAccessed"`
}

// Clone возвращает глубокую копию комнаты.
// Хранилища отдают наружу только копии.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	copied := *r
	copied.Files = make([]FileRecord, len(r.Files))
	copy(copied.Files, r.Files)
	return &copied
}

// FileIndex возвращает позицию файла с указанным ID или -1.
func (r *Room) FileIndex(fileID string) int {
	for i := range r.Files {
		if r.Files[i].ID == fileID {
			return i
		}
	}
	return -1
}

// IsStale сообщает, может ли комната быть удалена очисткой:
// файлов нет, и последняя мутация старше cutoff.
func (r *Room) IsStale(cutoff time.Time) bool {
	return len(r.Files) == 0 && r.LastAccessed.Before(cutoff)
}

// FileRef — связь записи о файле с ключом содержимого.
// Используется при сверке хранилищ и восстановлении после сбоя.
type FileRef struct {
	RoomCode   string
	FileID     string
	StorageKey string
}
