package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DevM15/Sew/internal/api/handlers"
	"github.com/DevM15/Sew/internal/config"
	"github.com/DevM15/Sew/internal/roomcode"
	"github.com/DevM15/Sew/internal/roomstore/fsstore"
	"github.com/DevM15/Sew/internal/service"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T) *handlers.APIHandler {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()

	store, err := fsstore.New(filepath.Join(root, "rooms"), logger)
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
	codes, err := roomcode.New(service.RoomExists(store), logger)
	if err != nil {
		t.Fatalf("roomcode.New() ошибка: %v", err)
	}

	rooms := service.NewRoomService(store, codes, files, walEngine, logger)
	uploads := service.NewUploadService(store, files, walEngine, 10<<20, logger)
	return handlers.NewAPIHandler(
		handlers.NewRoomsHandler(rooms, logger),
		handlers.NewFilesHandler(rooms, uploads, 40<<20, logger),
		handlers.NewDownloadsHandler(rooms, logger),
		handlers.NewHealthHandler(files.Dir(), walEngine.Dir(), store),
	)
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(&config.Config{}, testLogger(), newTestAPI(t))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodPost, "/api/rooms", http.StatusCreated},
		{http.MethodGet, "/api/rooms/NOROOM/files", http.StatusNotFound},
		{http.MethodGet, "/uploads/none.pdf", http.StatusNotFound},
		{http.MethodPut, "/api/rooms", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: хотели %d, получили %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(&config.Config{}, testLogger(), newTestAPI(t))

	// Запрос, который попадёт в метрики
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics: хотели 200, получили %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `sew_http_requests_total{method="GET",path="/health/live",status="200"}`) {
		t.Error("в /metrics нет счётчика запросов к /health/live")
	}
}

func TestRouter_CORS(t *testing.T) {
	const origin = "http://localhost:5173"

	t.Run("включён", func(t *testing.T) {
		router := NewRouter(&config.Config{CORSOrigin: origin}, testLogger(), newTestAPI(t))

		req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("Access-Control-Allow-Origin: хотели %q, получили %q", origin, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Access-Control-Allow-Credentials: хотели \"true\", получили %q", got)
		}
	})

	t.Run("чужой origin", func(t *testing.T) {
		router := NewRouter(&config.Config{CORSOrigin: origin}, testLogger(), newTestAPI(t))

		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("чужой origin не должен разрешаться: %q", got)
		}
	})

	t.Run("выключен", func(t *testing.T) {
		router := NewRouter(&config.Config{}, testLogger(), newTestAPI(t))

		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("без SEW_CORS_ORIGIN заголовок не ожидается: %q", got)
		}
	})
}

func TestServer_StartShutdown(t *testing.T) {
	srv := New(&config.Config{Port: 0}, testLogger(), newTestAPI(t))
	// Порт 0 — свободный порт от ОС
	srv.httpServer.Addr = "127.0.0.1:0"

	errCh := srv.Start()
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() ошибка: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("после Shutdown канал должен закрываться без ошибки: %v", err)
	}
}
