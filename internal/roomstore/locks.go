package roomstore

import "sync"

// RoomLocks — набор мьютексов по коду комнаты.
// Мьютекс создаётся при первом захвате и удаляется, когда
// его больше никто не держит и не ждёт, поэтому память
// не растёт с числом когда-либо существовавших комнат.
type RoomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// NewRoomLocks создаёт пустой набор блокировок.
func NewRoomLocks() *RoomLocks {
	return &RoomLocks{locks: make(map[string]*roomLock)}
}

// Lock захватывает мьютекс комнаты code и возвращает функцию освобождения.
func (l *RoomLocks) Lock(code string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[code]
	if !ok {
		rl = &roomLock{}
		l.locks[code] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, code)
		}
		l.mu.Unlock()
	}
}

// Len возвращает количество активных мьютексов.
func (l *RoomLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
