// Пакет roomdoc — чтение и запись документов комнат ({CODE}.room.json).
// Документ является единственным источником истины для метаданных
// комнаты в файловом backend. Все операции записи выполняются атомарно:
// temp → fsync → rename, поэтому читатель видит либо старую,
// либо новую версию документа целиком.
package roomdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DevM15/Sew/internal/domain/model"
)

// Suffix — суффикс файла документа комнаты.
const Suffix = ".room.json"

// Path возвращает путь к документу комнаты code в директории dir.
// Пример: ("/data", "A1B2C3") → "/data/A1B2C3.room.json"
func Path(dir, code string) string {
	return filepath.Join(dir, code+Suffix)
}

// IsRoomDoc проверяет, является ли имя файла документом комнаты.
func IsRoomDoc(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// Write атомарно записывает документ комнаты.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func Write(path string, room *model.Room) error {
	data, err := json.MarshalIndent(room, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации комнаты: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

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

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает документ комнаты.
// Отсутствующий файл — model.ErrNotFound.
func Read(path string) (*model.Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: документ %s", model.ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", path, err)
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа %s: %w", path, err)
	}
	if room.Files == nil {
		room.Files = []model.FileRecord{}
	}

	return &room, nil
}

// Delete удаляет документ комнаты.
// Возвращает nil, если файл уже не существует.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления документа %s: %w", path, err)
	}
	return nil
}

// ScanDir читает все документы комнат в директории (не рекурсивно).
// Невалидные документы и документы с именем, не совпадающим с кодом,
// пропускаются с предупреждением.
func ScanDir(dir string, logger *slog.Logger) ([]*model.Room, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	result := make([]*model.Room, 0, len(matches))
	for _, path := range matches {
		room, err := Read(path)
		if err != nil {
			logger.Warn("Пропуск невалидного документа комнаты",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		expected := strings.TrimSuffix(filepath.Base(path), Suffix)
		if room.Code != expected || !model.ValidCode(room.Code) {
			logger.Warn("Код в документе не совпадает с именем файла",
				slog.String("path", path),
				slog.String("code", room.Code),
			)
			continue
		}
		result = append(result, room)
	}

	return result, nil
}
