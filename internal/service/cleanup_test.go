package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
	"github.com/DevM15/Sew/internal/roomstore/storetest"
)

const testRetention = 7 * 24 * time.Hour

// TestCleanupRunOnce_Scenario: после удаления единственного файла
// и истечения срока хранения комната удаляется.
func TestCleanupRunOnce_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rooms := env.roomService(t)

	if _, err := env.store.Create(ctx, "A1B2C3"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	result, err := env.uploadService(testMaxSize).Upload(ctx, "A1B2C3", []IncomingFile{pdfFile("report.pdf", 2048)})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if err := rooms.DeleteFile(ctx, "A1B2C3", result.Records[0].ID); err != nil {
		t.Fatalf("DeleteFile() ошибка: %v", err)
	}

	scheduler := NewCleanupScheduler(env.store, time.Hour, testRetention, testLogger())

	// До истечения срока комната остаётся
	res, skipped := scheduler.RunOnce(ctx)
	if skipped || res.Removed != 0 {
		t.Fatalf("молодая комната не должна удаляться: removed=%d skipped=%v", res.Removed, skipped)
	}

	env.clock.Advance(testRetention + time.Minute)
	res, skipped = scheduler.RunOnce(ctx)
	if skipped {
		t.Fatal("запуск не должен пропускаться")
	}
	if res.Err != nil || res.Removed != 1 {
		t.Fatalf("ожидалось удаление 1 комнаты: removed=%d err=%v", res.Removed, res.Err)
	}
	if _, err := env.store.Find(ctx, "A1B2C3"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("комната должна быть удалена: %v", err)
	}
}

func TestCleanupRunOnce_KeepsRoomsWithFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.Create(ctx, "KEEP01"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	rec := storetest.Record("a.pdf", 1, env.clock.Now())
	if _, err := env.store.AppendFiles(ctx, "KEEP01", []model.FileRecord{rec}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}
	env.clock.Advance(10 * testRetention)

	scheduler := NewCleanupScheduler(env.store, time.Hour, testRetention, testLogger())
	res, _ := scheduler.RunOnce(ctx)
	if res.Removed != 0 {
		t.Errorf("комната с файлами не должна удаляться, удалено %d", res.Removed)
	}
}

// blockingStore блокирует SweepStale до закрытия release.
type blockingStore struct {
	roomstore.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) SweepStale(ctx context.Context, retention time.Duration) (int, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Store.SweepStale(ctx, retention)
}

func TestCleanupRunOnce_SkipsWhenRunning(t *testing.T) {
	env := newTestEnv(t)
	store := &blockingStore{
		Store:   env.store,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	scheduler := NewCleanupScheduler(store, time.Hour, testRetention, testLogger())

	done := make(chan struct{})
	go func() {
		scheduler.RunOnce(context.Background())
		close(done)
	}()
	<-store.entered

	res, skipped := scheduler.RunOnce(context.Background())
	if !skipped || res != nil {
		t.Errorf("параллельный запуск должен быть пропущен: skipped=%v res=%v", skipped, res)
	}

	close(store.release)
	<-done
}

// failingSweepStore всегда возвращает ошибку очистки.
type failingSweepStore struct {
	roomstore.Store
}

func (failingSweepStore) SweepStale(context.Context, time.Duration) (int, error) {
	return 0, errors.New("хранилище недоступно")
}

func TestCleanupRunOnce_FailureDoesNotStop(t *testing.T) {
	env := newTestEnv(t)
	scheduler := NewCleanupScheduler(failingSweepStore{Store: env.store}, time.Hour, testRetention, testLogger())

	for i := 0; i < 2; i++ {
		res, skipped := scheduler.RunOnce(context.Background())
		if skipped || res.Err == nil {
			t.Errorf("запуск %d: ожидалась ошибка в результате, skipped=%v", i, skipped)
		}
	}
}

func TestCleanupStartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.Create(ctx, "START1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	env.clock.Advance(testRetention + time.Hour)

	scheduler := NewCleanupScheduler(env.store, 10*time.Millisecond, testRetention, testLogger())
	scheduler.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := env.store.Find(ctx, "START1"); errors.Is(err, model.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("первый запуск очистки не выполнен")
		}
		time.Sleep(5 * time.Millisecond)
	}

	scheduler.Stop()
	// Повторная остановка безопасна
	scheduler.Stop()
}
