// Пакет fsstore — файловая реализация RoomStore.
//
// Каждая комната хранится в отдельном документе {CODE}.room.json,
// который перезаписывается атомарно. Поверх документов держится
// in-memory индекс: при старте он строится из директории (Load)
// и обновляется синхронно после каждой успешной записи документа.
//
// Мутации одной комнаты сериализуются мьютексом комнаты (RoomLocks),
// индекс хранит неизменяемые снимки, поэтому Find не блокируется
// на время записи документа на диск.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/storage/roomdoc"
)

// Store — файловое хранилище комнат.
type Store struct {
	dir    string
	locks  *roomstore.RoomLocks
	now    roomstore.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*model.Room // code → снимок, не изменяется после записи
	ready bool
}

// Option — функциональная опция Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now roomstore.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New создаёт хранилище в директории dir. Для загрузки существующих
// комнат вызовите Load.
func New(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию комнат %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		locks:  roomstore.NewRoomLocks(),
		now:    roomstore.SystemClock,
		logger: logger.With(slog.String("component", "fsstore")),
		rooms:  make(map[string]*model.Room),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load строит индекс из документов комнат. Заменяет текущее содержимое.
func (s *Store) Load() error {
	rooms, err := roomdoc.ScanDir(s.dir, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = make(map[string]*model.Room, len(rooms))
	for _, room := range rooms {
		s.rooms[room.Code] = room
	}
	s.ready = true

	s.logger.Info("Индекс комнат построен",
		slog.Int("rooms", len(s.rooms)),
		slog.String("dir", s.dir),
	)
	return nil
}

// IsReady возвращает true после успешного Load.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// CheckReady — проверка готовности для /health/ready.
func (s *Store) CheckReady() (status string, message string) {
	if !s.IsReady() {
		return "fail", "индекс комнат не построен"
	}
	return "ok", fmt.Sprintf("директория %s", s.dir)
}

// Create создаёт пустую комнату.
func (s *Store) Create(_ context.Context, code string) (*model.Room, error) {
	if !model.ValidCode(code) {
		return nil, fmt.Errorf("%w: код комнаты %q", model.ErrValidation, code)
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	if s.snapshot(code) != nil {
		return nil, fmt.Errorf("%w: комната %s", model.ErrConflict, code)
	}

	now := s.now()
	room := &model.Room{
		Code:         code,
		Files:        []model.FileRecord{},
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := s.persist(room); err != nil {
		return nil, err
	}
	return room.Clone(), nil
}

// Find возвращает копию комнаты.
func (s *Store) Find(_ context.Context, code string) (*model.Room, error) {
	room := s.snapshot(code)
	if room == nil {
		return nil, fmt.Errorf("%w: комната %s", model.ErrNotFound, code)
	}
	return room.Clone(), nil
}

// AppendFiles добавляет записи в конец списка файлов комнаты.
func (s *Store) AppendFiles(_ context.Context, code string, records []model.FileRecord) (*model.Room, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	current := s.snapshot(code)
	if current == nil {
		return nil, fmt.Errorf("%w: комната %s", model.ErrNotFound, code)
	}

	updated := current.Clone()
	updated.Files = append(updated.Files, records...)
	updated.LastAccessed = s.now()

	if err := s.persist(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// RemoveFile удаляет запись fileID из комнаты.
func (s *Store) RemoveFile(_ context.Context, code, fileID string) (*model.FileRecord, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	current := s.snapshot(code)
	if current == nil {
		return nil, fmt.Errorf("%w: комната %s", model.ErrNotFound, code)
	}
	i := current.FileIndex(fileID)
	if i < 0 {
		return nil, fmt.Errorf("%w: файл %s в комнате %s", model.ErrNotFound, fileID, code)
	}

	removed := current.Files[i]
	updated := current.Clone()
	updated.Files = append(updated.Files[:i], updated.Files[i+1:]...)
	updated.LastAccessed = s.now()

	if err := s.persist(updated); err != nil {
		return nil, err
	}
	return &removed, nil
}

// SweepStale удаляет пустые комнаты, не изменявшиеся дольше retention.
// Кандидаты отбираются по снимку индекса, затем каждая комната
// перепроверяется под своим мьютексом: загрузка, успевшая закоммитить
// файлы, делает комнату непригодной для удаления.
func (s *Store) SweepStale(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	s.mu.RLock()
	var candidates []string
	for code, room := range s.rooms {
		if room.IsStale(cutoff) {
			candidates = append(candidates, code)
		}
	}
	s.mu.RUnlock()
	sort.Strings(candidates)

	removed := 0
	var errs []error
	for _, code := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ok, err := s.sweepOne(code, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	return removed, errors.Join(errs...)
}

// sweepOne удаляет комнату code, если она всё ещё устаревшая.
func (s *Store) sweepOne(code string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	room := s.snapshot(code)
	if room == nil || !room.IsStale(cutoff) {
		return false, nil
	}

	if err := roomdoc.Delete(roomdoc.Path(s.dir, code)); err != nil {
		return false, fmt.Errorf("комната %s: %w", code, err)
	}

	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()

	s.logger.Debug("Комната удалена очисткой",
		slog.String("code", code),
		slog.Time("last_accessed", room.LastAccessed),
	)
	return true, nil
}

// FileRefs возвращает ссылки всех записей на содержимое.
func (s *Store) FileRefs(_ context.Context) ([]model.FileRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []model.FileRef
	for code, room := range s.rooms {
		for _, f := range room.Files {
			refs = append(refs, model.FileRef{RoomCode: code, FileID: f.ID, StorageKey: f.StorageKey})
		}
	}
	return refs, nil
}

// Count возвращает количество комнат.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

// snapshot возвращает текущий снимок комнаты или nil.
// Снимок нельзя изменять: мутации работают с Clone.
func (s *Store) snapshot(code string) *model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[code]
}

// persist записывает документ и публикует новый снимок в индексе.
// Вызывается под мьютексом комнаты.
func (s *Store) persist(room *model.Room) error {
	if err := roomdoc.Write(roomdoc.Path(s.dir, room.Code), room); err != nil {
		return fmt.Errorf("комната %s: %w", room.Code, err)
	}

	s.mu.Lock()
	s.rooms[room.Code] = room
	s.mu.Unlock()
	return nil
}

var _ roomstore.Store = (*Store)(nil)
