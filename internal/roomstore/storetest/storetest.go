package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
)

// Factory создаёт пустое хранилище, использующее часы clock.
type Factory func(t *testing.T, clock *Clock) roomstore.Store

// Record создаёт запись о файле с уникальными ID и ключом.
func Record(name string, size int64, at time.Time) model.FileRecord {
	id := uuid.NewString()
	return model.FileRecord{
		ID:           id,
		StorageKey:   id + "_" + name,
		OriginalName: name,
		Size:         size,
		MimeType:     model.PDFMimeType,
		UploadDate:   at,
	}
}

// Run прогоняет набор тестов контракта roomstore.Store.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, newStore) })
	t.Run("ConcurrentCreateUnique", func(t *testing.T) { testConcurrentCreate(t, newStore) })
	t.Run("FindNotFound", func(t *testing.T) { testFindNotFound(t, newStore) })
	t.Run("AppendPreservesOrder", func(t *testing.T) { testAppendOrder(t, newStore) })
	t.Run("AppendNotFound", func(t *testing.T) { testAppendNotFound(t, newStore) })
	t.Run("FindDoesNotTouch", func(t *testing.T) { testFindDoesNotTouch(t, newStore) })
	t.Run("RemoveFile", func(t *testing.T) { testRemoveFile(t, newStore) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore) })
	t.Run("ConcurrentAppendRemove", func(t *testing.T) { testConcurrentAppendRemove(t, newStore) })
	t.Run("SweepRacesAppend", func(t *testing.T) { testSweepRacesAppend(t, newStore) })
	t.Run("SweepStale", func(t *testing.T) { testSweepStale(t, newStore) })
	t.Run("AppendAfterSweep", func(t *testing.T) { testAppendAfterSweep(t, newStore) })
	t.Run("FileRefsAndCount", func(t *testing.T) { testFileRefsAndCount(t, newStore) })
}

func testCreateAndFind(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	created, err := s.Create(ctx, "A1B2C3")
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if created.Code != "A1B2C3" {
		t.Errorf("Code: хотели A1B2C3, получили %s", created.Code)
	}
	if len(created.Files) != 0 {
		t.Errorf("новая комната должна быть пустой, файлов: %d", len(created.Files))
	}

	found, err := s.Find(ctx, "A1B2C3")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if found.Files == nil {
		t.Error("Files должен быть пустым срезом, а не nil")
	}
	if !found.CreatedAt.Equal(clock.Now()) || !found.LastAccessed.Equal(clock.Now()) {
		t.Errorf("время создания: CreatedAt=%v LastAccessed=%v, ожидалось %v",
			found.CreatedAt, found.LastAccessed, clock.Now())
	}
}

func testCreateConflict(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock(time.Time{}))

	if _, err := s.Create(ctx, "DUPL01"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := s.Create(ctx, "DUPL01"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получено %v", err)
	}
}

func testConcurrentCreate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock(time.Time{}))

	const goroutines = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, "RACE01")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("ровно одно создание должно быть успешным, получено %d", successes)
	}
	if conflicts != goroutines-1 {
		t.Errorf("ожидалось %d конфликтов, получено %d", goroutines-1, conflicts)
	}
	for _, err := range others {
		t.Errorf("неожиданная ошибка: %v", err)
	}
}

func testFindNotFound(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock(time.Time{}))
	if _, err := s.Find(context.Background(), "NOROOM"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

func testAppendOrder(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "ORDER1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	a := Record("a.pdf", 10, clock.Now())
	b := Record("b.pdf", 20, clock.Now())
	if _, err := s.AppendFiles(ctx, "ORDER1", []model.FileRecord{a, b}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	later := clock.Advance(time.Minute)
	c := Record("c.pdf", 30, later)
	updated, err := s.AppendFiles(ctx, "ORDER1", []model.FileRecord{c})
	if err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}
	if len(updated.Files) != 3 {
		t.Fatalf("ожидалось 3 файла в ответе, получено %d", len(updated.Files))
	}

	found, err := s.Find(ctx, "ORDER1")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	want := []string{a.ID, b.ID, c.ID}
	if len(found.Files) != len(want) {
		t.Fatalf("ожидалось %d файлов, получено %d", len(want), len(found.Files))
	}
	for i, id := range want {
		if found.Files[i].ID != id {
			t.Errorf("позиция %d: хотели %s, получили %s", i, id, found.Files[i].ID)
		}
	}
	if found.Files[2].Size != 30 || found.Files[2].OriginalName != "c.pdf" {
		t.Errorf("поля записи не сохранены: %+v", found.Files[2])
	}
	if !found.LastAccessed.Equal(later) {
		t.Errorf("LastAccessed: хотели %v, получили %v", later, found.LastAccessed)
	}
}

func testAppendNotFound(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock(time.Time{}))
	_, err := s.AppendFiles(context.Background(), "NOROOM", []model.FileRecord{Record("x.pdf", 1, ReferenceTime)})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

func testFindDoesNotTouch(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "TOUCH1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	created := clock.Now()
	clock.Advance(time.Hour)

	found, err := s.Find(ctx, "TOUCH1")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if !found.LastAccessed.Equal(created) {
		t.Errorf("Find не должен обновлять LastAccessed: %v", found.LastAccessed)
	}
}

func testRemoveFile(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "REMOV1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	a := Record("a.pdf", 1, clock.Now())
	b := Record("b.pdf", 2, clock.Now())
	c := Record("c.pdf", 3, clock.Now())
	if _, err := s.AppendFiles(ctx, "REMOV1", []model.FileRecord{a, b, c}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	later := clock.Advance(time.Minute)
	removed, err := s.RemoveFile(ctx, "REMOV1", b.ID)
	if err != nil {
		t.Fatalf("RemoveFile() ошибка: %v", err)
	}
	if removed.StorageKey != b.StorageKey {
		t.Errorf("возвращена не та запись: %+v", removed)
	}

	found, _ := s.Find(ctx, "REMOV1")
	if len(found.Files) != 2 || found.Files[0].ID != a.ID || found.Files[1].ID != c.ID {
		t.Errorf("после удаления ожидались [a c], получено %+v", found.Files)
	}
	if !found.LastAccessed.Equal(later) {
		t.Errorf("RemoveFile должен обновлять LastAccessed: %v", found.LastAccessed)
	}

	if _, err := s.RemoveFile(ctx, "REMOV1", b.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := s.RemoveFile(ctx, "NOROOM", a.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("удаление из несуществующей комнаты: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := s.RemoveFile(ctx, "REMOV1", "not-a-uuid"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("некорректный id: ожидалась ErrNotFound, получено %v", err)
	}
}

func testConcurrentAppends(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "CONCUR"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			rec := Record(fmt.Sprintf("f%02d.pdf", i), int64(i+1), clock.Now())
			if _, err := s.AppendFiles(ctx, "CONCUR", []model.FileRecord{rec}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendFiles() ошибка: %v", err)
	}

	found, err := s.Find(ctx, "CONCUR")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if len(found.Files) != goroutines {
		t.Errorf("потеряны обновления: ожидалось %d файлов, получено %d", goroutines, len(found.Files))
	}
}

func testConcurrentAppendRemove(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "MIXRM1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	const initial = 10
	old := make([]model.FileRecord, initial)
	for i := range old {
		old[i] = Record(fmt.Sprintf("old%02d.pdf", i), 1, clock.Now())
	}
	if _, err := s.AppendFiles(ctx, "MIXRM1", old); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	// Чётные старые записи удаляются, параллельно добавляются пакеты по две
	const batches = 10
	added := make([][]model.FileRecord, batches)
	for i := range added {
		added[i] = []model.FileRecord{
			Record(fmt.Sprintf("new%02d-a.pdf", i), 2, clock.Now()),
			Record(fmt.Sprintf("new%02d-b.pdf", i), 2, clock.Now()),
		}
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, initial+batches)
	for i := 0; i < initial; i += 2 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			if _, err := s.RemoveFile(ctx, "MIXRM1", id); err != nil {
				errs <- fmt.Errorf("RemoveFile(%s): %w", id, err)
			}
		}(old[i].ID)
	}
	for i := range added {
		wg.Add(1)
		go func(batch []model.FileRecord) {
			defer wg.Done()
			<-start
			if _, err := s.AppendFiles(ctx, "MIXRM1", batch); err != nil {
				errs <- fmt.Errorf("AppendFiles(): %w", err)
			}
		}(added[i])
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	found, err := s.Find(ctx, "MIXRM1")
	if err != nil {
		t.Fatalf("Find() ошибка: %v", err)
	}
	if want := initial/2 + 2*batches; len(found.Files) != want {
		t.Fatalf("ожидалось %d файлов, получено %d", want, len(found.Files))
	}

	// Оставшиеся старые записи идут первыми в исходном порядке
	for i := 0; i < initial/2; i++ {
		if want := old[2*i+1].ID; found.Files[i].ID != want {
			t.Errorf("Files[%d]: хотели %s, получили %s", i, old[2*i+1].OriginalName, found.Files[i].OriginalName)
		}
	}

	// Каждый пакет добавлен целиком и без перестановок
	byFirst := make(map[string][]model.FileRecord, batches)
	for _, batch := range added {
		byFirst[batch[0].ID] = batch
	}
	rest := found.Files[initial/2:]
	for i := 0; i < len(rest); i += 2 {
		batch, ok := byFirst[rest[i].ID]
		if !ok {
			t.Fatalf("Files[%d] = %s не начинает добавленный пакет", initial/2+i, rest[i].OriginalName)
		}
		if rest[i+1].ID != batch[1].ID {
			t.Errorf("пакет %s разорван: за ним %s", batch[0].OriginalName, rest[i+1].OriginalName)
		}
		delete(byFirst, rest[i].ID)
	}
	if len(byFirst) != 0 {
		t.Errorf("потеряно пакетов: %d", len(byFirst))
	}
}

func testSweepRacesAppend(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)
	retention := 24 * time.Hour

	const rooms = 20
	codes := make([]string, rooms)
	for i := range codes {
		codes[i] = fmt.Sprintf("RACE%02d", i)
		if _, err := s.Create(ctx, codes[i]); err != nil {
			t.Fatalf("Create(%s) ошибка: %v", codes[i], err)
		}
	}
	clock.Advance(retention + time.Hour)

	start := make(chan struct{})
	var wg sync.WaitGroup
	appendErrs := make([]error, rooms)
	records := make([]model.FileRecord, rooms)
	for i := range codes {
		records[i] = Record(fmt.Sprintf("race%02d.pdf", i), 1, clock.Now())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, appendErrs[i] = s.AppendFiles(ctx, codes[i], []model.FileRecord{records[i]})
		}(i)
	}

	var removed int
	var sweepErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		removed, sweepErr = s.SweepStale(ctx, retention)
	}()

	close(start)
	wg.Wait()
	if sweepErr != nil {
		t.Fatalf("SweepStale() ошибка: %v", sweepErr)
	}

	// Либо запись сохранена и комната жива, либо комната удалена
	// и загрузка получила ErrNotFound
	notFound := 0
	for i, code := range codes {
		room, findErr := s.Find(ctx, code)
		switch {
		case appendErrs[i] == nil:
			if findErr != nil {
				t.Errorf("%s: запись добавлена, но комната удалена: %v", code, findErr)
				continue
			}
			if len(room.Files) != 1 || room.Files[0].ID != records[i].ID {
				t.Errorf("%s: запись потеряна: %+v", code, room.Files)
			}
		case errors.Is(appendErrs[i], model.ErrNotFound):
			notFound++
			if !errors.Is(findErr, model.ErrNotFound) {
				t.Errorf("%s: AppendFiles вернул ErrNotFound, но комната существует", code)
			}
		default:
			t.Errorf("%s: AppendFiles() ошибка: %v", code, appendErrs[i])
		}
	}
	if removed != notFound {
		t.Errorf("удалено комнат %d, отказов ErrNotFound %d", removed, notFound)
	}
}

func testSweepStale(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)
	retention := 7 * 24 * time.Hour

	// Пустая и старая — удаляется
	if _, err := s.Create(ctx, "STALE1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	// С файлом и старая — остаётся
	if _, err := s.Create(ctx, "FILES1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := s.AppendFiles(ctx, "FILES1", []model.FileRecord{Record("keep.pdf", 5, clock.Now())}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	clock.Advance(retention + time.Hour)

	// Пустая, но молодая — остаётся
	if _, err := s.Create(ctx, "YOUNG1"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	removed, err := s.SweepStale(ctx, retention)
	if err != nil {
		t.Fatalf("SweepStale() ошибка: %v", err)
	}
	if removed != 1 {
		t.Errorf("ожидалось удаление 1 комнаты, удалено %d", removed)
	}

	if _, err := s.Find(ctx, "STALE1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("STALE1 должна быть удалена: %v", err)
	}
	for _, code := range []string{"FILES1", "YOUNG1"} {
		if _, err := s.Find(ctx, code); err != nil {
			t.Errorf("%s не должна удаляться: %v", code, err)
		}
	}

	// Повторная очистка ничего не находит
	removed, err = s.SweepStale(ctx, retention)
	if err != nil || removed != 0 {
		t.Errorf("повторная очистка: removed=%d err=%v", removed, err)
	}
}

func testAppendAfterSweep(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	if _, err := s.Create(ctx, "GONE01"); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if n, err := s.SweepStale(ctx, 24*time.Hour); err != nil || n != 1 {
		t.Fatalf("SweepStale(): n=%d err=%v", n, err)
	}

	_, err := s.AppendFiles(ctx, "GONE01", []model.FileRecord{Record("late.pdf", 1, clock.Now())})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("загрузка в удалённую комнату: ожидалась ErrNotFound, получено %v", err)
	}

	// Код освобождён и может быть выдан снова
	if _, err := s.Create(ctx, "GONE01"); err != nil {
		t.Errorf("повторное создание после очистки: %v", err)
	}
}

func testFileRefsAndCount(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Time{})
	s := newStore(t, clock)

	for _, code := range []string{"REFS01", "REFS02"} {
		if _, err := s.Create(ctx, code); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	rec := Record("ref.pdf", 7, clock.Now())
	if _, err := s.AppendFiles(ctx, "REFS02", []model.FileRecord{rec}); err != nil {
		t.Fatalf("AppendFiles() ошибка: %v", err)
	}

	refs, err := s.FileRefs(ctx)
	if err != nil {
		t.Fatalf("FileRefs() ошибка: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("ожидалась 1 ссылка, получено %d", len(refs))
	}
	want := model.FileRef{RoomCode: "REFS02", FileID: rec.ID, StorageKey: rec.StorageKey}
	if refs[0] != want {
		t.Errorf("хотели %+v, получили %+v", want, refs[0])
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("ожидалось 2 комнаты, получено %d", n)
	}
}
