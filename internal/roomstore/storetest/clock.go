// Пакет storetest — общий набор тестов контракта roomstore.Store
// и управляемые часы для тестов. Используется тестами каждой реализации.
package storetest

import (
	"sync"
	"time"
)

// ReferenceTime — стартовое время часов в тестах.
// Без наносекунд: PostgreSQL хранит время с точностью до микросекунд.
var ReferenceTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// Clock — управляемый источник времени.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock возвращает часы, установленные на start
// (ReferenceTime, если start нулевой).
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime
	}
	return &Clock{current: start}
}

// Now возвращает текущее время часов.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance сдвигает часы вперёд и возвращает новое время.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
