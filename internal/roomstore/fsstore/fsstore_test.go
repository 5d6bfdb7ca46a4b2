package fsstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/roomstore/storetest"
	"github.com/DevM15/Sew/internal/storage/roomdoc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, dir string, clock *storetest.Clock) *Store {
	t.Helper()
	s, err := New(dir, testLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) roomstore.Store {
		return newTestStore(t, t.TempDir(), clock)
	})
}

func TestStore_NotReadyBeforeLoad(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	if s.IsReady() {
		t.Error("хранилище не должно быть готово до Load")
	}
	if status, _ := s.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() до Load: хотели fail, получили %s", status)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if !s.IsReady() {
		t.Error("хранилище должно быть готово после Load")
	}
	if status, _ := s.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() после Load: хотели ok, получили %s", status)
	}
}

// TestStore_LoadAfterRestart проверяет, что состояние переживает перезапуск.
func TestStore_LoadAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := storetest.NewClock(time.Time{})

	first := newTestStore(t, dir, clock)
	if _, err := first.Create(ctx, "PERSI1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	rec := storetest.Record("report.pdf", 42, clock.Now())
	if _, err := first.AppendFiles(ctx, "PERSI1", []model.FileRecord{rec}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	second := newTestStore(t, dir, clock)
	room, err := second.Find(ctx, "PERSI1")
	if err != nil {
		t.Fatalf("Find() после перезапуска: %v", err)
	}
	if len(room.Files) != 1 || room.Files[0].ID != rec.ID || room.Files[0].Size != 42 {
		t.Errorf("файлы не восстановлены: %+v", room.Files)
	}
	if !room.Files[0].UploadDate.Equal(rec.UploadDate) {
		t.Errorf("UploadDate: хотели %v, получили %v", rec.UploadDate, room.Files[0].UploadDate)
	}
}

// TestStore_SweepRemovesDocument проверяет удаление документа с диска.
func TestStore_SweepRemovesDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := storetest.NewClock(time.Time{})
	s := newTestStore(t, dir, clock)

	if _, err := s.Create(ctx, "SWEEP1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	path := roomdoc.Path(dir, "SWEEP1")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("документ комнаты не создан: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if n, err := s.SweepStale(ctx, time.Hour); err != nil || n != 1 {
		t.Fatalf("SweepStale(): n=%d err=%v", n, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("документ должен быть удалён, Stat: %v", err)
	}
}

// TestStore_PersistFailureKeepsIndex проверяет, что ошибка записи
// документа не меняет индекс.
func TestStore_PersistFailureKeepsIndex(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	ctx := context.Background()
	dir := t.TempDir()
	clock := storetest.NewClock(time.Time{})
	s := newTestStore(t, dir, clock)

	if _, err := s.Create(ctx, "RDONLY"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o750) })

	_, err := s.AppendFiles(ctx, "RDONLY", []model.FileRecord{storetest.Record("x.pdf", 1, clock.Now())})
	if err == nil {
		t.Fatal("ожидалась ошибка записи в директорию только для чтения")
	}

	room, err := s.Find(ctx, "RDONLY")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if len(room.Files) != 0 {
		t.Errorf("индекс не должен меняться при ошибке, файлов: %d", len(room.Files))
	}
}

func TestStore_CreateInvalidCode(t *testing.T) {
	s := newTestStore(t, t.TempDir(), storetest.NewClock(time.Time{}))
	for _, code := range []string{"", "abc123", "A1B2C", "A1B2C3D", "A1B2C/"} {
		if _, err := s.Create(context.Background(), code); !errors.Is(err, model.ErrValidation) {
			t.Errorf("Create(%q): ожидалась ErrValidation, получено %v", code, err)
		}
	}
}

func TestStore_LoadSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "BROKEN.room.json"), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, dir, storetest.NewClock(time.Time{}))
	n, _ := s.Count(context.Background())
	if n != 0 {
		t.Errorf("ожидалось 0 комнат, получено %d", n)
	}
}
