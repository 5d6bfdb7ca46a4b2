// files.go — HTTP handlers файлов комнаты: список, загрузка, удаление.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/DevM15/Sew/internal/api/errors"
	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/service"
)

// uploadField — имя поля multipart с файлами.
const uploadField = "files"

// FilesHandler — обработчик файловых endpoints комнаты.
type FilesHandler struct {
	rooms   *service.RoomService
	uploads *service.UploadService
	// maxUploadSize — предел тела запроса загрузки в байтах
	maxUploadSize int64
	logger        *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	rooms *service.RoomService,
	uploads *service.UploadService,
	maxUploadSize int64,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		rooms:         rooms,
		uploads:       uploads,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "files_handler")),
	}
}

// ListFiles обрабатывает GET /api/rooms/{code}/files.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.rooms.ListFiles(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// UploadFiles обрабатывает POST /api/rooms/{code}/files.
// Multipart form: files (1..N).
//
// Комната проверяется до чтения тела. Части читаются потоком во временную
// директорию, каждая не дальше лимита файла плюс один байт; всё тело
// ограничено maxUploadSize.
//
// Ответы:
//   - 200 — все файлы сохранены, тело — массив записей;
//   - 400 — часть файлов отклонена (в теле details и сохранённые files),
//     нет поля files или тело превышает предел;
//   - 404 — комнаты нет, тело не читается.
func (h *FilesHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	code, err := h.uploads.CheckRoom(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}

	spoolDir, err := os.MkdirTemp("", "sew-upload-*")
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, fmt.Errorf("%w: временная директория: %v", model.ErrStorage, err))
		return
	}
	defer func() { _ = os.RemoveAll(spoolDir) }()

	incoming, err := h.readParts(mr, spoolDir)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apierrors.ValidationError(w, fmt.Sprintf("Тело запроса превышает %d байт", tooLarge.Limit))
		case errors.Is(err, model.ErrStorage):
			apierrors.FromDomain(w, r, h.logger, err)
		default:
			apierrors.ValidationError(w, "Ошибка разбора multipart: "+err.Error())
		}
		return
	}
	if len(incoming) == 0 {
		apierrors.ValidationError(w, "Поле 'files' обязательно")
		return
	}

	result, err := h.uploads.Upload(r.Context(), code, incoming)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result.Records)
	case errors.Is(err, model.ErrValidation) && result != nil:
		h.writeRejected(w, result, err)
	default:
		apierrors.FromDomain(w, r, h.logger, err)
	}
}

// readParts сохраняет файлы поля files во временную директорию dir.
// Остальные части пропускаются.
func (h *FilesHandler) readParts(mr *multipart.Reader, dir string) ([]service.IncomingFile, error) {
	limit := h.uploads.MaxFileSize()

	var incoming []service.IncomingFile
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return incoming, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		f, err := spoolPart(part, filepath.Join(dir, strconv.Itoa(len(incoming))), limit)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, f)
	}
}

// spoolPart копирует не больше limit+1 байт части в path.
// Размер больше limit сервис загрузки отклонит как too_large.
func spoolPart(part *multipart.Part, path string, limit int64) (service.IncomingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return service.IncomingFile{}, fmt.Errorf("%w: временный файл: %v", model.ErrStorage, err)
	}

	n, err := io.Copy(spoolWriter{f}, io.LimitReader(part, limit+1))
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: временный файл: %v", model.ErrStorage, closeErr)
	}
	if err != nil {
		return service.IncomingFile{}, err
	}

	return service.IncomingFile{
		Name:     part.FileName(),
		MimeType: part.Header.Get("Content-Type"),
		Size:     n,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// spoolWriter помечает ошибки записи на диск как ErrStorage,
// чтобы отличать их от ошибок чтения тела запроса.
type spoolWriter struct {
	f *os.File
}

func (w spoolWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: запись во временный файл: %v", model.ErrStorage, err)
	}
	return n, nil
}

// writeRejected сообщает об отклонённых файлах пакета.
// Любое отклонение, в том числе по размеру, — 400 VALIDATION_ERROR.
func (h *FilesHandler) writeRejected(w http.ResponseWriter, result *service.UploadResult, err error) {
	details := make([]apierrors.Detail, 0, len(result.Rejected))
	for _, rej := range result.Rejected {
		details = append(details, apierrors.Detail{
			File:    rej.File,
			Reason:  string(rej.Reason),
			Message: rej.Message,
		})
	}
	apierrors.WriteUploadError(w, http.StatusBadRequest, apierrors.CodeValidationError, err.Error(), details, result.Records)
}

type deleteFileResponse struct {
	Message string `json:"message"`
}

// DeleteFile обрабатывает DELETE /api/rooms/{code}/files/{fileId}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	err := h.rooms.DeleteFile(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "fileId"))
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteFileResponse{Message: "Файл удалён"})
}
