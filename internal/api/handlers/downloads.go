package handlers

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/DevM15/Sew/internal/api/errors"
	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/service"
)

// DownloadsHandler отдаёт содержимое по ключу хранения.
type DownloadsHandler struct {
	rooms  *service.RoomService
	logger *slog.Logger
}

// NewDownloadsHandler создаёт обработчик скачивания.
func NewDownloadsHandler(rooms *service.RoomService, logger *slog.Logger) *DownloadsHandler {
	return &DownloadsHandler{
		rooms:  rooms,
		logger: logger.With(slog.String("component", "downloads_handler")),
	}
}

// Download обрабатывает GET /uploads/{filename}.
// Ключ с разделителями пути или служебным суффиксом даёт 404.
// Range и If-Modified-Since обрабатывает http.ServeContent.
func (h *DownloadsHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "filename")

	content, err := h.rooms.OpenContent(key)
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", model.PDFMimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": key}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, key, content.ModTime, content)
}
