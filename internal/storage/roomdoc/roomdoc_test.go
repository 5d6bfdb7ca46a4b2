package roomdoc

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleRoom(code string) *model.Room {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &model.Room{
		Code: code,
		Files: []model.FileRecord{
			{
				ID:           "7d9c1f0e-2b7a-4c47-9a55-0f3c1d2e4b6a",
				StorageKey:   "0195f3a2-7c1e-7b4d-9a11-2c3d4e5f6a7b_report.pdf",
				OriginalName: "report.pdf",
				Size:         2048,
				MimeType:     model.PDFMimeType,
				UploadDate:   now,
			},
		},
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// TestWriteRead проверяет запись и чтение документа комнаты.
func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "A1B2C3")

	room := sampleRoom("A1B2C3")
	if err := Write(path, room); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.Code != room.Code {
		t.Errorf("Code: хотели %s, получили %s", room.Code, got.Code)
	}
	if len(got.Files) != 1 {
		t.Fatalf("ожидался 1 файл, получено %d", len(got.Files))
	}
	f := got.Files[0]
	if f.ID != room.Files[0].ID || f.StorageKey != room.Files[0].StorageKey || f.Size != 2048 {
		t.Errorf("запись о файле не совпадает: %+v", f)
	}
	if !f.UploadDate.Equal(room.Files[0].UploadDate) {
		t.Errorf("UploadDate: хотели %v, получили %v", room.Files[0].UploadDate, f.UploadDate)
	}
	if !got.LastAccessed.Equal(room.LastAccessed) {
		t.Errorf("LastAccessed: хотели %v, получили %v", room.LastAccessed, got.LastAccessed)
	}

	// temp файл не должен оставаться
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp файл не удалён после записи")
	}
}

// TestRead_NotFound проверяет ErrNotFound для отсутствующего документа.
func TestRead_NotFound(t *testing.T) {
	_, err := Read(Path(t.TempDir(), "ZZZZZZ"))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestRead_NilFiles проверяет, что пустой список файлов не становится nil.
func TestRead_NilFiles(t *testing.T) {
	path := Path(t.TempDir(), "EMPTY1")
	if err := os.WriteFile(path, []byte(`{"code":"EMPTY1"}`), 0o640); err != nil {
		t.Fatalf("ошибка подготовки: %v", err)
	}

	room, err := Read(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if room.Files == nil {
		t.Error("Files должен быть пустым срезом, а не nil")
	}
}

// TestDelete_Idempotent проверяет повторное удаление.
func TestDelete_Idempotent(t *testing.T) {
	path := Path(t.TempDir(), "A1B2C3")
	if err := Write(path, sampleRoom("A1B2C3")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if err := Delete(path); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := Delete(path); err != nil {
		t.Fatalf("повторное удаление должно быть успешным: %v", err)
	}
}

// TestScanDir проверяет сканирование с пропуском невалидных документов.
func TestScanDir(t *testing.T) {
	dir := t.TempDir()

	for _, code := range []string{"AAAAAA", "BBBBBB"} {
		if err := Write(Path(dir, code), sampleRoom(code)); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
	}
	// Битый JSON
	_ = os.WriteFile(filepath.Join(dir, "CCCCCC"+Suffix), []byte("{"), 0o640)
	// Код не совпадает с именем файла
	_ = Write(Path(dir, "DDDDDD"), sampleRoom("EEEEEE"))
	// Посторонний файл
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o640)

	rooms, err := ScanDir(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка сканирования: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("ожидалось 2 комнаты, получено %d", len(rooms))
	}
}

func TestIsRoomDoc(t *testing.T) {
	if !IsRoomDoc("A1B2C3.room.json") {
		t.Error("ожидалось true для .room.json")
	}
	if IsRoomDoc("A1B2C3.room.json.tmp") {
		t.Error("ожидалось false для temp файла")
	}
}
