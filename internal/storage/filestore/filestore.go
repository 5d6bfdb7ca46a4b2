// Пакет filestore — хранилище содержимого загруженных файлов на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение и удаление по ключу. Ключи генерирует вызывающий код,
// хранилище только проверяет их безопасность.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DevM15/Sew/internal/domain/model"
)

// tmpSuffix — суффикс незавершённой записи. Такие файлы не видны через Open и List.
const tmpSuffix = ".tmp"

// maxKeyLength — ограничение длины ключа для файловой системы.
const maxKeyLength = 200

// FileStore — управление содержимым файлов на диске.
type FileStore struct {
	// dir — корневая директория содержимого (SEW_UPLOAD_DIR)
	dir string
}

// SaveResult — результат записи содержимого.
type SaveResult struct {
	// Key — ключ содержимого
	Key string
	// FullPath — абсолютный путь на диске
	FullPath string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// BlobInfo — описание сохранённого содержимого для сверки.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Content — открытое для чтения содержимое.
// Вызывающий код обязан закрыть его.
type Content struct {
	io.ReadSeekCloser
	// Size — размер в байтах
	Size int64
	// ModTime — время последней записи
	ModTime time.Time
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию содержимого %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Write записывает содержимое из reader под ключом key.
// Записанный размер обязан совпасть с declaredSize, иначе ErrStorage.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При любой ошибке temp файл удаляется, ключ остаётся свободным.
func (fs *FileStore) Write(key string, reader io.Reader, declaredSize int64) (*SaveResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if declaredSize < 0 {
		return nil, fmt.Errorf("%w: отрицательный заявленный размер %d", model.ErrValidation, declaredSize)
	}

	fullPath := fs.FullPath(key)
	if _, err := os.Stat(fullPath); err == nil {
		return nil, fmt.Errorf("%w: ключ %s уже занят", model.ErrStorage, key)
	}
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка создания временного файла: %v", model.ErrStorage, err)
	}

	hasher := sha256.New()
	// Читаем на байт больше заявленного, чтобы обнаружить превышение
	tee := io.TeeReader(io.LimitReader(reader, declaredSize+1), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка записи данных: %v", model.ErrStorage, err)
	}

	if size != declaredSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: записано %d байт, заявлено %d", model.ErrStorage, size, declaredSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка fsync: %v", model.ErrStorage, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка закрытия файла: %v", model.ErrStorage, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка атомарного переименования: %v", model.ErrStorage, err)
	}

	return &SaveResult{
		Key:      key,
		FullPath: fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает содержимое для чтения.
func (fs *FileStore) Open(key string) (*Content, error) {
	if err := ValidateKey(key); err != nil {
		// Небезопасный ключ не может существовать в хранилище
		return nil, fmt.Errorf("%w: содержимое %q", model.ErrNotFound, key)
	}

	f, err := os.Open(fs.FullPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: содержимое %s", model.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: ошибка открытия %s: %v", model.ErrStorage, key, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: ошибка stat %s: %v", model.ErrStorage, key, err)
	}
	return &Content{ReadSeekCloser: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Remove удаляет содержимое. Если ключа нет — ErrNotFound,
// вызывающий код считает такое удаление уже выполненным.
func (fs *FileStore) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("%w: содержимое %q", model.ErrNotFound, key)
	}

	err := os.Remove(fs.FullPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: содержимое %s", model.ErrNotFound, key)
		}
		return fmt.Errorf("%w: ошибка удаления %s: %v", model.ErrStorage, key, err)
	}
	return nil
}

// Exists проверяет наличие содержимого.
func (fs *FileStore) Exists(key string) bool {
	if ValidateKey(key) != nil {
		return false
	}
	_, err := os.Stat(fs.FullPath(key))
	return err == nil
}

// List возвращает все завершённые записи (без temp и служебных файлов).
func (fs *FileStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dir, err)
	}

	var result []BlobInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		result = append(result, BlobInfo{Key: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	return result, nil
}

// RemoveStaleTemp удаляет temp файлы, оставшиеся от прерванных записей,
// если они старше olderThan. Возвращает количество удалённых.
func (fs *FileStore) RemoveStaleTemp(olderThan time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(fs.dir, "*"+tmpSuffix))
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования директории %s: %w", fs.dir, err)
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FullPath возвращает абсолютный путь к содержимому.
func (fs *FileStore) FullPath(key string) string {
	return filepath.Join(fs.dir, key)
}

// Dir возвращает корневую директорию.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// ValidateKey проверяет, что ключ — одно безопасное имя файла
// без разделителей пути и служебных суффиксов.
func ValidateKey(key string) error {
	switch {
	case key == "", len(key) > maxKeyLength:
		return fmt.Errorf("%w: недопустимая длина ключа", model.ErrValidation)
	case strings.ContainsAny(key, `/\`), strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: ключ содержит разделитель пути", model.ErrValidation)
	case strings.HasPrefix(key, "."):
		return fmt.Errorf("%w: ключ не может начинаться с точки", model.ErrValidation)
	case strings.HasSuffix(key, tmpSuffix):
		return fmt.Errorf("%w: зарезервированный суффикс ключа", model.ErrValidation)
	}
	return nil
}

// GenerateKey генерирует ключ содержимого.
// Формат: {uuid v7}_{name}.pdf, где name — очищенное имя файла без расширения.
// UUID v7 упорядочен по времени и делает ключ уникальным независимо от имени.
// Пример: 0195f3a2-7c1e-7b4d-9a11-2c3d4e5f6a7b_report.pdf
func GenerateKey(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = sanitize(name)
	if r := []rune(name); len(r) > 50 {
		name = string(r[:50])
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s.pdf", id.String(), name)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
