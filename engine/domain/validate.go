package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQuestionRunes bounds the length of an accepted question.
const MaxQuestionRunes = 2000

// ValidateQuestion rejects blank and oversized questions before any
// retrieval work is done.
func ValidateQuestion(q string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	if utf8.RuneCountInString(trimmed) > MaxQuestionRunes {
		return NewValidationError("question", string([]rune(trimmed)[:64])+"...", ErrQuestionTooLong)
	}
	return nil
}
