package model

import "errors"

// Ошибки доменного уровня. Слои хранения переводят ошибки драйверов
// в эти значения, HTTP-слой сопоставляет их через errors.Is.
var (
	// ErrValidation — некорректные входные данные (код, MIME-тип, размер).
	ErrValidation = errors.New("некорректные входные данные")
	// ErrNotFound — комната, файл или содержимое не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrConflict — код комнаты уже занят. Наружу не отдаётся.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStorage — сбой записи или удаления содержимого.
	ErrStorage = errors.New("ошибка хранилища")
)
