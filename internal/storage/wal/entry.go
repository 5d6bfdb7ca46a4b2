// Пакет wal — файловый Write-Ahead Log операций, затрагивающих
// одновременно содержимое и метаданные комнаты.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в SEW_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpUploadBatch — загрузка пакета файлов в комнату
	OpUploadBatch OperationType = "upload_batch"
	// OpFileDelete — удаление файла из комнаты
	OpFileDelete OperationType = "file_delete"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Target — объекты, которые затрагивает транзакция.
type Target struct {
	// RoomCode — код комнаты
	RoomCode string `json:"room_code"`
	// FileID — идентификатор записи (только для file_delete)
	FileID string `json:"file_id,omitempty"`
	// StorageKeys — ключи содержимого, которые операция создаёт или удаляет
	StorageKeys []string `json:"storage_keys,omitempty"`
}

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	Target

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
