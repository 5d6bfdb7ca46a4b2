package cached

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/roomstore/fsstore"
	"github.com/DevM15/Sew/internal/roomstore/storetest"
)

// countingStore считает обращения Find к нижележащему хранилищу.
type countingStore struct {
	roomstore.Store
	finds atomic.Int64
}

func (c *countingStore) Find(ctx context.Context, code string) (*model.Room, error) {
	c.finds.Add(1)
	return c.Store.Find(ctx, code)
}

func newBacking(t *testing.T, clock *storetest.Clock) *countingStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fs, err := fsstore.New(t.TempDir(), logger, fsstore.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("fsstore.New() ошибка: %v", err)
	}
	if err := fs.Load(); err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	return &countingStore{Store: fs}
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) roomstore.Store {
		return New(newBacking(t, clock), 100, time.Minute)
	})
}

func TestStore_HitSkipsBacking(t *testing.T) {
	ctx := context.Background()
	backing := newBacking(t, storetest.NewClock(time.Time{}))
	s := New(backing, 100, time.Minute)

	if _, err := s.Create(ctx, "CACHE1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Find(ctx, "CACHE1"); err != nil {
			t.Fatalf("Find() ошибка: %v", err)
		}
	}
	if got := backing.finds.Load(); got != 1 {
		t.Errorf("ожидалось 1 обращение к хранилищу, получено %d", got)
	}
}

func TestStore_MutationInvalidates(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(time.Time{})
	s := New(newBacking(t, clock), 100, time.Minute)

	if _, err := s.Create(ctx, "CACHE2"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := s.Find(ctx, "CACHE2"); err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}

	rec := storetest.Record("a.pdf", 1, clock.Now())
	if _, err := s.AppendFiles(ctx, "CACHE2", []model.FileRecord{rec}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}
	room, _ := s.Find(ctx, "CACHE2")
	if len(room.Files) != 1 {
		t.Fatalf("после загрузки кэш должен сброситься, файлов: %d", len(room.Files))
	}

	if _, err := s.RemoveFile(ctx, "CACHE2", rec.ID); err != nil {
		t.Fatalf("RemoveFile() ошибка: %v", err)
	}
	room, _ = s.Find(ctx, "CACHE2")
	if len(room.Files) != 0 {
		t.Errorf("после удаления кэш должен сброситься, файлов: %d", len(room.Files))
	}
}

func TestStore_NotFoundNotCached(t *testing.T) {
	ctx := context.Background()
	backing := newBacking(t, storetest.NewClock(time.Time{}))
	s := New(backing, 100, time.Minute)

	if _, err := s.Find(ctx, "LATER1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	// Комната создана в обход кэша
	if _, err := backing.Create(ctx, "LATER1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := s.Find(ctx, "LATER1"); err != nil {
		t.Errorf("отсутствие комнаты не должно кэшироваться: %v", err)
	}
}

func TestStore_SweepPurges(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(time.Time{})
	s := New(newBacking(t, clock), 100, time.Minute)

	if _, err := s.Create(ctx, "SWEEP2"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := s.Find(ctx, "SWEEP2"); err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("комната должна быть в кэше, Len=%d", s.Len())
	}

	clock.Advance(2 * time.Hour)
	if n, err := s.SweepStale(ctx, time.Hour); err != nil || n != 1 {
		t.Fatalf("SweepStale(): n=%d err=%v", n, err)
	}
	if s.Len() != 0 {
		t.Errorf("кэш должен быть очищен, Len=%d", s.Len())
	}
	if _, err := s.Find(ctx, "SWEEP2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(time.Time{})
	s := New(newBacking(t, clock), 100, time.Minute)

	if _, err := s.Create(ctx, "COPY01"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	room, _ := s.Find(ctx, "COPY01")
	room.Files = append(room.Files, storetest.Record("x.pdf", 1, clock.Now()))

	again, _ := s.Find(ctx, "COPY01")
	if len(again.Files) != 0 {
		t.Errorf("изменение копии не должно влиять на кэш, файлов: %d", len(again.Files))
	}
}

func TestStore_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	backing := newBacking(t, storetest.NewClock(time.Time{}))
	s := New(backing, 100, 50*time.Millisecond)

	if _, err := s.Create(ctx, "TTL001"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	_, _ = s.Find(ctx, "TTL001")
	time.Sleep(100 * time.Millisecond)
	_, _ = s.Find(ctx, "TTL001")

	if got := backing.finds.Load(); got != 2 {
		t.Errorf("после истечения TTL ожидалось 2 обращения, получено %d", got)
	}
}
