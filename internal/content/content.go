// Package content содержит правила проверки и отображения текста постов и комментариев.
package content

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Минимальная длина текста после обрезки пробелов.
const (
	PostMinLength    = 10
	CommentMinLength = 1
)

// Ellipsis добавляется к обрезанному тексту.
const Ellipsis = "..."

var (
	ErrEmptyText = errors.New("text cannot be empty")
	ErrTooShort  = errors.New("text is too short")
)

// ValidationError сохраняет исходный ввод, чтобы его можно было вернуть автору для исправления.
type ValidationError struct {
	Input     string
	MinLength int
	Err       error
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrTooShort) {
		return "text must be at least " + strconv.Itoa(e.MinLength) + " characters long"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidateSubmission обрезает пробелы по краям и проверяет минимальную длину (в символах).
// Внутренние пробелы сохраняются как есть.
func ValidateSubmission(text string, minLength int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &ValidationError{Input: text, MinLength: minLength, Err: ErrEmptyText}
	}
	if utf8.RuneCountInString(trimmed) < minLength {
		return "", &ValidationError{Input: text, MinLength: minLength, Err: ErrTooShort}
	}
	return trimmed, nil
}

// Unit - единица измерения лимита.
type Unit int

const (
	Chars Unit = iota
	Words
)

// Limit описывает, когда и до какой длины обрезать текст.
// Текст обрезается, если в нём больше Max единиц; в свёрнутом виде показываются первые Keep единиц.
// Keep == 0 означает Keep == Max.
type Limit struct {
	Max  int
	Keep int
	Unit Unit
}

var (
	PostLimit        = Limit{Max: 300, Unit: Chars}
	CommentLimit     = Limit{Max: 30, Unit: Words}
	ProfilePostLimit = Limit{Max: 200, Keep: 150, Unit: Chars}
)

func (l Limit) keep() int {
	if l.Keep > 0 {
		return l.Keep
	}
	return l.Max
}

// Body - результат отображения текста.
type Body struct {
	Shown     string `json:"shown"`
	Truncated bool   `json:"truncated"`
}

// RenderBody возвращает текст для показа. Truncated сообщает, превышает ли текст лимит,
// даже если он показан целиком (expanded), чтобы вызывающий мог предложить переключатель.
func RenderBody(text string, limit Limit, expanded bool) Body {
	var exceeds bool
	var cut int
	switch limit.Unit {
	case Words:
		exceeds = countWords(text) > limit.Max
		if exceeds {
			cut = wordPrefixEnd(text, limit.keep())
		}
	default:
		exceeds = utf8.RuneCountInString(text) > limit.Max
		if exceeds {
			cut = runePrefixEnd(text, limit.keep())
		}
	}

	if exceeds && !expanded {
		return Body{Shown: text[:cut] + Ellipsis, Truncated: true}
	}
	return Body{Shown: text, Truncated: exceeds}
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// wordPrefixEnd возвращает байтовый индекс конца n-го слова.
func wordPrefixEnd(s string, n int) int {
	words := 0
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				words++
				if words == n {
					return i
				}
			}
			continue
		}
		inWord = true
	}
	return len(s)
}

// runePrefixEnd возвращает байтовый индекс после первых n символов.
func runePrefixEnd(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
