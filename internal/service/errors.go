// Пакет service - бизнес-логика поиска ДНК: конвейер запроса,
// история поиска и мониторинг зависимостей.
package service

import (
	"errors"
	"fmt"
)

// ErrorKind - вид отказа операции поиска.
type ErrorKind string

const (
	// KindValidation - неверные параметры запроса или CSV
	KindValidation ErrorKind = "ValidationError"
	// KindNoValidSamples - в файле нет ни одного корректного образца
	KindNoValidSamples ErrorKind = "NoValidSamples"
	// KindEngineTimeout - движок превысил отведённое время
	KindEngineTimeout ErrorKind = "EngineTimeout"
	// KindEngineExecution - движок не запустился, упал или сообщил об отказе
	KindEngineExecution ErrorKind = "EngineExecutionError"
	// KindEngineOutput - результат движка отсутствует или некорректен
	KindEngineOutput ErrorKind = "EngineOutputError"
	// KindNotFound - запуск не найден или принадлежит другому пользователю
	KindNotFound ErrorKind = "NotFound"
	// KindStorage - ошибка файловой системы или БД
	KindStorage ErrorKind = "StorageError"
)

// SearchError - типизированная ошибка операций поиска.
// Message можно показывать клиенту, Diagnostic - только в логи.
type SearchError struct {
	Kind    ErrorKind
	Message string
	// Row - строка CSV для ошибок валидации (0 - не относится к строке)
	Row int
	// Diagnostic - stderr или сырой вывод движка
	Diagnostic string
	Err        error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// KindOf возвращает вид ошибки или пустую строку для прочих ошибок.
func KindOf(err error) ErrorKind {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, err error) *SearchError {
	return &SearchError{Kind: kind, Message: msg, Err: err}
}
