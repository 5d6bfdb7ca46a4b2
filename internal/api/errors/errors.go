// Пакет errors — единый формат ошибок HTTP API Sew.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromDomain.
package errors //nolint:revive // имя совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/DevM15/Sew/internal/domain/model"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// internalMessage — текст ответа 500. Подробности остаются в логе.
const internalMessage = "Внутренняя ошибка сервера"

// Detail — причина отклонения одного файла пакета.
type Detail struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	// Message — описание для пользователя
	Message string `json:"message,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
}

// uploadErrorBody — ответ на частично отклонённый пакет:
// ошибка и записи, которые всё же сохранены.
type uploadErrorBody struct {
	Error errorDetail        `json:"error"`
	Files []model.FileRecord `json:"files"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

// WriteUploadError записывает ошибку загрузки со списком отклонённых файлов
// и сохранёнными записями. files == nil отдаётся как пустой массив.
func WriteUploadError(w http.ResponseWriter, statusCode int, code, message string, details []Detail, files []model.FileRecord) {
	if files == nil {
		files = []model.FileRecord{}
	}
	writeJSON(w, statusCode, uploadErrorBody{
		Error: errorDetail{Code: code, Message: message, Details: details},
		Files: files,
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, internalMessage)
}

// FromDomain сопоставляет доменную ошибку с HTTP-ответом.
// Ошибки, не являющиеся ErrValidation или ErrNotFound, логируются
// и отдаются клиенту как 500 без подробностей.
func FromDomain(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case stderrors.Is(err, model.ErrValidation):
		ValidationError(w, err.Error())
	case stderrors.Is(err, model.ErrNotFound):
		NotFound(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		InternalError(w)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
