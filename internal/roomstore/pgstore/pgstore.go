// Пакет pgstore — реализация RoomStore поверх PostgreSQL.
//
// Комната — строка rooms, её файлы — строки room_files в порядке seq.
// Мутации комнаты выполняются в транзакции под блокировкой строки
// rooms (SELECT ... FOR UPDATE), поэтому конкурентные загрузки
// в одну комнату не теряют записей, а очистка не удаляет комнату,
// в которую только что закоммичены файлы.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DevM15/Sew/internal/domain/model"
	"github.com/DevM15/Sew/internal/roomstore"
)

// Store — хранилище комнат в PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	tx     *TxRunner
	now    roomstore.Clock
	logger *slog.Logger
}

// Option — функциональная опция Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now roomstore.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New создаёт хранилище. Схема должна быть создана database.Migrate.
func New(pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		tx:     NewTxRunner(pool),
		now:    roomstore.SystemClock,
		logger: logger.With(slog.String("component", "pgstore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create создаёт пустую комнату.
func (s *Store) Create(ctx context.Context, code string) (*model.Room, error) {
	if !model.ValidCode(code) {
		return nil, fmt.Errorf("%w: код комнаты %q", model.ErrValidation, code)
	}

	now := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (code, created_at, last_accessed) VALUES ($1, $2, $2)`,
		code, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: комната %s", model.ErrConflict, code)
		}
		return nil, fmt.Errorf("%w: создание комнаты %s: %v", model.ErrStorage, code, err)
	}

	return &model.Room{
		Code:         code,
		Files:        []model.FileRecord{},
		CreatedAt:    now,
		LastAccessed: now,
	}, nil
}

// Find возвращает комнату со всеми файлами.
func (s *Store) Find(ctx context.Context, code string) (*model.Room, error) {
	return findRoom(ctx, s.pool, code)
}

// AppendFiles добавляет записи в конец списка файлов комнаты.
func (s *Store) AppendFiles(ctx context.Context, code string, records []model.FileRecord) (*model.Room, error) {
	var room *model.Room
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := lockRoom(ctx, tx, code); err != nil {
			return err
		}

		for _, r := range records {
			_, err := tx.Exec(ctx,
				`INSERT INTO room_files (id, room_code, storage_key, original_name, size, mimetype, upload_date)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, code, r.StorageKey, r.OriginalName, r.Size, r.MimeType, r.UploadDate,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: запись %s уже существует", model.ErrConflict, r.ID)
				}
				return fmt.Errorf("%w: добавление файла %s: %v", model.ErrStorage, r.ID, err)
			}
		}

		if err := touchRoom(ctx, tx, code, s.now()); err != nil {
			return err
		}

		var err error
		room, err = findRoom(ctx, tx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// RemoveFile удаляет запись fileID из комнаты.
func (s *Store) RemoveFile(ctx context.Context, code, fileID string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, fmt.Errorf("%w: файл %s в комнате %s", model.ErrNotFound, fileID, code)
	}

	var removed model.FileRecord
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := lockRoom(ctx, tx, code); err != nil {
			return err
		}

		err := tx.QueryRow(ctx,
			`DELETE FROM room_files WHERE id = $1 AND room_code = $2
			 RETURNING id::text, storage_key, original_name, size, mimetype, upload_date`,
			fileID, code,
		).Scan(&removed.ID, &removed.StorageKey, &removed.OriginalName,
			&removed.Size, &removed.MimeType, &removed.UploadDate)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: файл %s в комнате %s", model.ErrNotFound, fileID, code)
			}
			return fmt.Errorf("%w: удаление файла %s: %v", model.ErrStorage, fileID, err)
		}

		return touchRoom(ctx, tx, code, s.now())
	})
	if err != nil {
		return nil, err
	}
	removed.UploadDate = removed.UploadDate.UTC()
	return &removed, nil
}

// SweepStale удаляет пустые комнаты, не изменявшиеся дольше retention.
// Строки, заблокированные загрузкой, перепроверяются после её коммита:
// обновлённый last_accessed исключает их из удаления.
func (s *Store) SweepStale(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rooms r
		 WHERE r.last_accessed < $1
		   AND NOT EXISTS (SELECT 1 FROM room_files f WHERE f.room_code = r.code)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: очистка комнат: %v", model.ErrStorage, err)
	}

	removed := int(tag.RowsAffected())
	if removed > 0 {
		s.logger.Debug("Удалены устаревшие комнаты",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// FileRefs возвращает ссылки всех записей на содержимое.
func (s *Store) FileRefs(ctx context.Context) ([]model.FileRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_code, id::text, storage_key FROM room_files ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ссылок на файлы: %v", model.ErrStorage, err)
	}
	defer rows.Close()

	var refs []model.FileRef
	for rows.Next() {
		var ref model.FileRef
		if err := rows.Scan(&ref.RoomCode, &ref.FileID, &ref.StorageKey); err != nil {
			return nil, fmt.Errorf("%w: сканирование ссылки: %v", model.ErrStorage, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return refs, nil
}

// Count возвращает количество комнат.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rooms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: подсчёт комнат: %v", model.ErrStorage, err)
	}
	return n, nil
}

// lockRoom блокирует строку комнаты до конца транзакции.
func lockRoom(ctx context.Context, db DBTX, code string) error {
	var locked string
	err := db.QueryRow(ctx, `SELECT code FROM rooms WHERE code = $1 FOR UPDATE`, code).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: комната %s", model.ErrNotFound, code)
		}
		return fmt.Errorf("%w: блокировка комнаты %s: %v", model.ErrStorage, code, err)
	}
	return nil
}

func touchRoom(ctx context.Context, db DBTX, code string, at time.Time) error {
	if _, err := db.Exec(ctx, `UPDATE rooms SET last_accessed = $2 WHERE code = $1`, code, at); err != nil {
		return fmt.Errorf("%w: обновление комнаты %s: %v", model.ErrStorage, code, err)
	}
	return nil
}

// findRoom читает комнату и её файлы одним запросом.
func findRoom(ctx context.Context, db DBTX, code string) (*model.Room, error) {
	rows, err := db.Query(ctx,
		`SELECT r.code, r.created_at, r.last_accessed,
		        f.id::text, f.storage_key, f.original_name, f.size, f.mimetype, f.upload_date
		 FROM rooms r
		 LEFT JOIN room_files f ON f.room_code = r.code
		 WHERE r.code = $1
		 ORDER BY f.seq`,
		code,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение комнаты %s: %v", model.ErrStorage, code, err)
	}
	defer rows.Close()

	var room *model.Room
	for rows.Next() {
		var (
			roomCode              string
			createdAt, accessedAt time.Time
			id, key, name, mime   *string
			size                  *int64
			uploadDate            *time.Time
		)
		if err := rows.Scan(&roomCode, &createdAt, &accessedAt,
			&id, &key, &name, &size, &mime, &uploadDate); err != nil {
			return nil, fmt.Errorf("%w: сканирование комнаты %s: %v", model.ErrStorage, code, err)
		}

		if room == nil {
			room = &model.Room{
				Code:         roomCode,
				Files:        []model.FileRecord{},
				CreatedAt:    createdAt.UTC(),
				LastAccessed: accessedAt.UTC(),
			}
		}
		// LEFT JOIN без файлов даёт одну строку с NULL
		if id == nil {
			continue
		}
		room.Files = append(room.Files, model.FileRecord{
			ID:           *id,
			StorageKey:   *key,
			OriginalName: *name,
			Size:         *size,
			MimeType:     *mime,
			UploadDate:   uploadDate.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	if room == nil {
		return nil, fmt.Errorf("%w: комната %s", model.ErrNotFound, code)
	}
	return room, nil
}

var _ roomstore.Store = (*Store)(nil)
