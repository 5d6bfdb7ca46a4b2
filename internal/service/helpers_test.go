package service

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevM15/Sew/internal/roomcode"
	"github.com/DevM15/Sew/internal/roomstore/fsstore"
	"github.com/DevM15/Sew/internal/roomstore/storetest"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — окружение сервисов поверх временных директорий.
type testEnv struct {
	root      string
	clock     *storetest.Clock
	store     *fsstore.Store
	files     *filestore.FileStore
	walEngine *wal.WAL
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	clock := storetest.NewClock(time.Time{})
	logger := testLogger()

	store, err := fsstore.New(filepath.Join(root, "rooms"), logger, fsstore.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("fsstore.New() ошибка: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	files, err := filestore.New(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatalf("filestore.New() ошибка: %v", err)
	}
	walEngine, err := wal.New(filepath.Join(root, "wal"), logger)
	if err != nil {
		t.Fatalf("wal.New() ошибка: %v", err)
	}

	return &testEnv{root: root, clock: clock, store: store, files: files, walEngine: walEngine}
}

func (e *testEnv) roomService(t *testing.T) *RoomService {
	t.Helper()
	codes, err := roomcode.New(RoomExists(e.store), testLogger())
	if err != nil {
		t.Fatalf("roomcode.New() ошибка: %v", err)
	}
	return NewRoomService(e.store, codes, e.files, e.walEngine, testLogger())
}

func (e *testEnv) uploadService(maxSize int64) *UploadService {
	svc := NewUploadService(e.store, e.files, e.walEngine, maxSize, testLogger())
	svc.now = e.clock.Now
	return svc
}

// blobCount возвращает количество содержимого в хранилище.
func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	blobs, err := e.files.List()
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	return len(blobs)
}

// pdfFile создаёт входной PDF-файл заданного размера.
func pdfFile(name string, size int) IncomingFile {
	data := bytes.Repeat([]byte{'%'}, size)
	return IncomingFile{
		Name:     name,
		MimeType: "application/pdf",
		Size:     int64(size),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// untouchable — файл, содержимое которого не должно читаться.
func untouchable(t *testing.T, name, mimeType string, size int64) IncomingFile {
	return IncomingFile{
		Name:     name,
		MimeType: mimeType,
		Size:     size,
		Open: func() (io.ReadCloser, error) {
			t.Errorf("содержимое %s не должно читаться", name)
			return io.NopCloser(bytes.NewReader(nil)), nil
		},
	}
}
