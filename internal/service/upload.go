// upload.go — пакетная загрузка файлов в комнату с WAL-транзакцией.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/storage/filestore"
	"github.com/DevM15/Sew/internal/storage/wal"
)

var (
	filesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_files_uploaded_total",
		Help: "Общее количество принятых файлов",
	})

	filesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sew_files_rejected_total",
		Help: "Общее количество отклонённых файлов по причине",
	}, []string{"reason"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_upload_bytes_total",
		Help: "Общий объём принятого содержимого в байтах",
	})

	uploadRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_upload_rollbacks_total",
		Help: "Количество откатов пакетной загрузки",
	})
)

// RejectReason — причина отклонения файла.
type RejectReason string

const (
	// RejectNotPDF — MIME-тип отличается от application/pdf
	RejectNotPDF RejectReason = "not_pdf"
	// RejectTooLarge — размер превышает лимит
	RejectTooLarge RejectReason = "too_large"
	// RejectEmpty — пустой файл
	RejectEmpty RejectReason = "empty"
)

// IncomingFile — файл из запроса на загрузку.
type IncomingFile struct {
	// Name — имя файла у клиента
	Name string
	// MimeType — заявленный MIME-тип
	MimeType string
	// Size — заявленный размер в байтах
	Size int64
	// Open открывает поток содержимого
	Open func() (io.ReadCloser, error)
}

// Rejection — отклонённый файл.
type Rejection struct {
	File    string
	Reason  RejectReason
	Message string
}

// UploadResult — итог загрузки пакета.
type UploadResult struct {
	// Records — записи, добавленные в комнату
	Records []model.FileRecord
	// Rejected — файлы, не прошедшие проверку
	Rejected []Rejection
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	store       roomstore.Store
	files       *filestore.FileStore
	walEngine   *wal.WAL
	maxFileSize int64
	now         roomstore.Clock
	logger      *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	store roomstore.Store,
	files *filestore.FileStore,
	walEngine *wal.WAL,
	maxFileSize int64,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		store:       store,
		files:       files,
		walEngine:   walEngine,
		maxFileSize: maxFileSize,
		now:         roomstore.SystemClock,
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// Upload загружает пакет файлов в комнату.
//
// Поток:
//  1. Проверка существования комнаты (до записи содержимого)
//  2. Проверка MIME-типа и размера каждого файла
//  3. WAL StartTransaction со списком ключей
//  4. Запись содержимого каждого принятого файла
//  5. AppendFiles одним вызовом
//  6. WAL Commit
//
// Ошибка на шаге 4 или 5 удаляет всё записанное содержимое и откатывает WAL.
// Если часть файлов отклонена, принятые всё равно сохраняются, а ошибка
// оборачивает ErrValidation; результат возвращается в обоих случаях.
func (s *UploadService) Upload(ctx context.Context, rawCode string, incoming []IncomingFile) (*UploadResult, error) {
	if len(incoming) == 0 {
		return nil, fmt.Errorf("%w: не передано ни одного файла", model.ErrValidation)
	}

	// 1. Комната должна существовать до записи содержимого
	code, err := s.CheckRoom(ctx, rawCode)
	if err != nil {
		return nil, err
	}

	// 2. Валидация
	result := &UploadResult{}
	var accepted []IncomingFile
	for _, f := range incoming {
		if rej := s.validate(f); rej != nil {
			filesRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
			result.Rejected = append(result.Rejected, *rej)
			continue
		}
		accepted = append(accepted, f)
	}

	if len(accepted) > 0 {
		records, err := s.persist(ctx, code, accepted)
		if err != nil {
			return nil, err
		}
		result.Records = records
	}

	if len(result.Rejected) > 0 {
		return result, fmt.Errorf("%w: отклонено файлов: %d из %d",
			model.ErrValidation, len(result.Rejected), len(incoming))
	}
	return result, nil
}

// CheckRoom нормализует код и проверяет, что комната существует.
// HTTP-слой вызывает его до чтения тела запроса.
func (s *UploadService) CheckRoom(ctx context.Context, rawCode string) (string, error) {
	code, err := model.NormalizeCode(rawCode)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Find(ctx, code); err != nil {
		return "", err
	}
	return code, nil
}

// MaxFileSize — лимит одного файла в байтах.
func (s *UploadService) MaxFileSize() int64 {
	return s.maxFileSize
}

// validate проверяет файл до записи. Возвращает nil, если файл принят.
func (s *UploadService) validate(f IncomingFile) *Rejection {
	if mediaType(f.MimeType) != model.PDFMimeType {
		return &Rejection{
			File:    f.Name,
			Reason:  RejectNotPDF,
			Message: fmt.Sprintf("допускаются только PDF, получен %q", f.MimeType),
		}
	}
	if f.Size > s.maxFileSize {
		return &Rejection{
			File:    f.Name,
			Reason:  RejectTooLarge,
			Message: fmt.Sprintf("размер превышает максимум %d байт", s.maxFileSize),
		}
	}
	if f.Size <= 0 {
		return &Rejection{
			File:    f.Name,
			Reason:  RejectEmpty,
			Message: "пустой файл",
		}
	}
	return nil
}

// persist записывает содержимое и добавляет записи в комнату.
func (s *UploadService) persist(ctx context.Context, code string, accepted []IncomingFile) ([]model.FileRecord, error) {
	keys := make([]string, len(accepted))
	for i, f := range accepted {
		keys[i] = filestore.GenerateKey(f.Name)
	}

	// 3. WAL: ключи известны до первой записи
	walEntry, err := s.walEngine.StartTransaction(wal.OpUploadBatch, wal.Target{
		RoomCode:    code,
		StorageKeys: keys,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	var written []string
	rollback := func(cause error) {
		uploadRollbacksTotal.Inc()
		for _, key := range written {
			if rmErr := s.files.Remove(key); rmErr != nil && !errors.Is(rmErr, model.ErrNotFound) {
				s.logger.Error("Ошибка удаления содержимого при откате",
					slog.String("storage_key", key),
					slog.String("error", rmErr.Error()),
				)
			}
		}
		rollbackWAL(s.walEngine, s.logger, walEntry.TransactionID)
		s.logger.Warn("Загрузка откачена",
			slog.String("code", code),
			slog.Int("written", len(written)),
			slog.String("error", cause.Error()),
		)
	}

	// 4. Содержимое
	records := make([]model.FileRecord, 0, len(accepted))
	for i, f := range accepted {
		size, err := s.writeOne(keys[i], f)
		if err != nil {
			rollback(err)
			return nil, err
		}
		written = append(written, keys[i])

		records = append(records, model.FileRecord{
			ID:           uuid.NewString(),
			StorageKey:   keys[i],
			OriginalName: f.Name,
			Size:         size,
			MimeType:     model.PDFMimeType,
			UploadDate:   s.now(),
		})
	}

	// 5. Метаданные
	if _, err := s.store.AppendFiles(ctx, code, records); err != nil {
		rollback(err)
		return nil, err
	}

	// 6. WAL Commit
	commitWAL(s.walEngine, s.logger, walEntry.TransactionID)

	var total int64
	for _, r := range records {
		total += r.Size
	}
	filesUploadedTotal.Add(float64(len(records)))
	uploadBytesTotal.Add(float64(total))

	s.logger.Info("Файлы загружены",
		slog.String("code", code),
		slog.Int("files", len(records)),
		slog.Int64("bytes", total),
	)
	return records, nil
}

func (s *UploadService) writeOne(key string, f IncomingFile) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: открытие %s: %v", model.ErrStorage, f.Name, err)
	}
	defer rc.Close()

	saved, err := s.files.Write(key, rc, f.Size)
	if err != nil {
		return 0, err
	}
	return saved.Size, nil
}

// mediaType возвращает MIME-тип без параметров в нижнем регистре.
func mediaType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}
