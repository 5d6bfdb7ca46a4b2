// Пакет handlers — HTTP handlers Sew: комнаты, файлы, скачивание
// содержимого, health probes.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// APIHandler собирает доменные handlers и регистрирует их маршруты.
type APIHandler struct {
	rooms     *RoomsHandler
	files     *FilesHandler
	downloads *DownloadsHandler
	health    *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	rooms *RoomsHandler,
	files *FilesHandler,
	downloads *DownloadsHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		rooms:     rooms,
		files:     files,
		downloads: downloads,
		health:    health,
	}
}

// Mount регистрирует маршруты API в роутере.
func (h *APIHandler) Mount(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	r.Post("/api/rooms", h.rooms.CreateRoom)
	r.Get("/api/rooms/{code}/files", h.files.ListFiles)
	r.Post("/api/rooms/{code}/files", h.files.UploadFiles)
	r.Delete("/api/rooms/{code}/files/{fileId}", h.files.DeleteFile)

	r.Get("/uploads/{filename}", h.downloads.Download)
}

// writeJSON записывает успешный JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
