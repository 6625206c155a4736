package httpapi

import (
	"errors"
	"net/http"

	"github.com/UkralStul/kindwords-service/internal/content"
	"github.com/UkralStul/kindwords-service/internal/service"
)

// Коды ошибок в ответах API
const (
	// ErrEmptyText - текст пустой после обрезки пробелов
	ErrEmptyText = "EMPTY_TEXT"
	// ErrTooShort - текст короче минимальной длины
	ErrTooShort = "TOO_SHORT"
	// ErrInvalidData - недопустимое значение в запросе
	ErrInvalidData = "INVALID_DATA"
	// ErrParsing - тело запроса не разобрано
	ErrParsing = "PARSING_ERROR"
	// ErrUnauthenticated - нужен вход
	ErrUnauthenticated = "UNAUTHENTICATED"
	// ErrForbidden - действие доступно только автору
	ErrForbidden = "FORBIDDEN"
	// ErrNotFound - пост или комментарий не существует
	ErrNotFound = "NOT_FOUND"
	// ErrWriteFailed - хранилище не приняло запись; клиенту стоит повторить попытку
	ErrWriteFailed = "WRITE_FAILED"
	// ErrInternal - внутренняя ошибка сервера
	ErrInternal = "INTERNAL_ERROR"
)

// HTTPError - тело ответа с ошибкой.
type HTTPError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	// Input возвращает отклонённый текст автору для исправления.
	Input string `json:"input,omitempty"`
	err   error
}

func newError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// errorFor переводит ошибку сервиса в ответ API. Подробности внутренних ошибок клиенту не отдаются.
func errorFor(err error) *HTTPError {
	var verr *content.ValidationError
	if errors.As(err, &verr) {
		code := ErrTooShort
		if errors.Is(err, content.ErrEmptyText) {
			code = ErrEmptyText
		}
		return &HTTPError{Status: http.StatusBadRequest, Code: code, Message: verr.Error(), Input: verr.Input, err: err}
	}

	e := &HTTPError{err: err}
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		e.Status, e.Code = http.StatusUnauthorized, ErrUnauthenticated
	case errors.Is(err, service.ErrForbidden):
		e.Status, e.Code = http.StatusForbidden, ErrForbidden
	case errors.Is(err, service.ErrNotFound):
		e.Status, e.Code = http.StatusNotFound, ErrNotFound
	case errors.Is(err, service.ErrInvalidParent):
		e.Status, e.Code = http.StatusBadRequest, ErrInvalidData
	case errors.Is(err, service.ErrWriteFailed):
		e.Status, e.Code = http.StatusServiceUnavailable, ErrWriteFailed
		e.Message = service.ErrWriteFailed.Error()
		return e
	default:
		e.Status, e.Code = http.StatusInternalServerError, ErrInternal
		e.Message = http.StatusText(http.StatusInternalServerError)
		return e
	}
	e.Message = err.Error()
	return e
}
