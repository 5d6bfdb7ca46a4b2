// Пакет roomcode — генерация кодов комнат.
//
// Код состоит из 6 равновероятных символов алфавита A-Z0-9
// (nanoid.CustomASCII). Кандидат проверяется на занятость;
// при коллизии генерируется новый. Генератор код не резервирует:
// уникальность окончательно обеспечивает RoomStore.Create.
package roomcode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jaevor/go-nanoid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DevM15/Sew/internal/domain/model"
)

// MaxAttempts — предел кандидатов на один вызов Generate.
const MaxAttempts = 100

// ErrExhausted — все попытки дали занятые коды.
// При нормальной заполненности пространства кодов это признак
// повреждённого хранилища.
var ErrExhausted = fmt.Errorf("%w: не удалось подобрать свободный код комнаты", model.ErrStorage)

var codeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sew_room_code_collisions_total",
	Help: "Количество сгенерированных кодов, оказавшихся занятыми.",
})

// ExistsFunc сообщает, занят ли код.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator — генератор кодов комнат.
type Generator struct {
	exists      ExistsFunc
	source      func() string
	maxAttempts int
	logger      *slog.Logger
}

// Option — функциональная опция Generator.
type Option func(*Generator)

// WithSource подменяет источник кандидатов.
func WithSource(source func() string) Option {
	return func(g *Generator) {
		g.source = source
	}
}

// WithMaxAttempts задаёт предел попыток.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New создаёт генератор, проверяющий занятость через exists.
func New(exists ExistsFunc, logger *slog.Logger, opts ...Option) (*Generator, error) {
	g := &Generator{
		exists:      exists,
		maxAttempts: MaxAttempts,
		logger:      logger.With(slog.String("component", "roomcode")),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.source == nil {
		source, err := nanoid.CustomASCII(model.CodeAlphabet, model.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания генератора nanoid: %w", err)
		}
		g.source = source
	}
	return g, nil
}

// Generate возвращает свободный на момент проверки код.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code := g.source()
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("проверка кода %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}

		codeCollisionsTotal.Inc()
		g.logger.Debug("Коллизия кода комнаты",
			slog.String("code", code),
			slog.Int("attempt", attempt),
		)
	}

	g.logger.Error("Исчерпаны попытки генерации кода комнаты",
		slog.Int("attempts", g.maxAttempts),
	)
	return "", ErrExhausted
}
