// Пакет cached — LRU-кэш комнат с TTL поверх roomstore.Store.
// Обёртка над hashicorp/golang-lru/v2/expirable, промахи
// объединяются через singleflight.
//
// Кэшируются только найденные комнаты. Любая мутация через обёртку
// сбрасывает запись комнаты и увеличивает поколение кэша: загрузка,
// начатая до мутации, не кладёт в кэш устаревший снимок. Изменения,
// сделанные другими экземплярами сервиса, видны не позже чем через TTL.
package cached

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_room_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш комнат.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sew_room_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша комнат.",
	})
)

// Store — кэширующая обёртка над roomstore.Store.
type Store struct {
	next  roomstore.Store
	cache *expirable.LRU[string, *model.Room]
	group singleflight.Group

	mu  sync.Mutex
	gen uint64
}

// New создаёт кэш на maxSize комнат с временем жизни записи ttl.
func New(next roomstore.Store, maxSize int, ttl time.Duration) *Store {
	return &Store{
		next:  next,
		cache: expirable.NewLRU[string, *model.Room](maxSize, nil, ttl),
	}
}

// Create создаёт комнату в нижележащем хранилище.
func (s *Store) Create(ctx context.Context, code string) (*model.Room, error) {
	room, err := s.next.Create(ctx, code)
	s.invalidate(code)
	return room, err
}

// Find возвращает комнату из кэша или загружает её.
func (s *Store) Find(ctx context.Context, code string) (*model.Room, error) {
	if room, ok := s.cache.Get(code); ok {
		cacheHitsTotal.Inc()
		return room.Clone(), nil
	}
	cacheMissesTotal.Inc()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	// Ключ включает поколение: после мутации новые читатели
	// не присоединяются к загрузке, начатой до неё.
	key := code + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.group.Do(key, func() (any, error) {
		room, err := s.next.Find(ctx, code)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gen == gen {
			s.cache.Add(code, room.Clone())
		}
		s.mu.Unlock()
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Room).Clone(), nil
}

// AppendFiles добавляет записи и сбрасывает кэш комнаты.
func (s *Store) AppendFiles(ctx context.Context, code string, records []model.FileRecord) (*model.Room, error) {
	room, err := s.next.AppendFiles(ctx, code, records)
	s.invalidate(code)
	return room, err
}

// RemoveFile удаляет запись и сбрасывает кэш комнаты.
func (s *Store) RemoveFile(ctx context.Context, code, fileID string) (*model.FileRecord, error) {
	rec, err := s.next.RemoveFile(ctx, code, fileID)
	s.invalidate(code)
	return rec, err
}

// SweepStale удаляет устаревшие комнаты и очищает кэш, если что-то удалено.
func (s *Store) SweepStale(ctx context.Context, retention time.Duration) (int, error) {
	n, err := s.next.SweepStale(ctx, retention)
	if n > 0 {
		s.mu.Lock()
		s.gen++
		s.cache.Purge()
		s.mu.Unlock()
	}
	return n, err
}

// FileRefs читает ссылки напрямую из хранилища.
func (s *Store) FileRefs(ctx context.Context) ([]model.FileRef, error) {
	return s.next.FileRefs(ctx)
}

// Count читает количество комнат напрямую из хранилища.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.next.Count(ctx)
}

// Len возвращает количество комнат в кэше.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) invalidate(code string) {
	s.mu.Lock()
	s.gen++
	s.cache.Remove(code)
	s.mu.Unlock()
}

var _ roomstore.Store = (*Store)(nil)
