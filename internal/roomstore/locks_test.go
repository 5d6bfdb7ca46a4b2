package roomstore

import (
	"sync"
	"testing"
)

// TestRoomLocks_SerializesSameCode проверяет, что захваты одного кода
// не пересекаются: счётчик без атомиков не теряет обновлений.
func TestRoomLocks_SerializesSameCode(t *testing.T) {
	locks := NewRoomLocks()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			unlock := locks.Lock("A1B2C3")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("хотели %d, получили %d", goroutines, counter)
	}
	if locks.Len() != 0 {
		t.Errorf("после освобождения не должно оставаться мьютексов, осталось %d", locks.Len())
	}
}

// TestRoomLocks_IndependentCodes проверяет, что разные коды не блокируют друг друга.
func TestRoomLocks_IndependentCodes(t *testing.T) {
	locks := NewRoomLocks()

	unlockA := locks.Lock("AAAAAA")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("BBBBBB")
		unlockB()
		close(done)
	}()
	<-done

	if locks.Len() != 1 {
		t.Errorf("ожидался 1 активный мьютекс, получено %d", locks.Len())
	}
}
