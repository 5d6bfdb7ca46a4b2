package model

import (
	"fmt"
	"strings"
)

const (
	// CodeLength — длина кода комнаты.
	CodeLength = 6
	// CodeAlphabet — алфавит кода комнаты (36 символов).
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ValidCode проверяет, что code состоит ровно из 6 символов [A-Z0-9].
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// NormalizeCode приводит код к верхнему регистру и проверяет формат.
// Клиенты могут присылать код в нижнем регистре.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !ValidCode(code) {
		return "", fmt.Errorf("%w: код комнаты должен состоять из %d символов A-Z, 0-9", ErrValidation, CodeLength)
	}
	return code, nil
}
