// Пакет errors - единый формат ошибок HTTP API.
// Формат: {"success": false, "message": "...", "error": {"code": "...", "message": "...", "row": N}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNoValidSamples       = "NO_VALID_SAMPLES"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeNotFound             = "NOT_FOUND"
	CodeEngineTimeout        = "ENGINE_TIMEOUT"
	CodeEngineExecutionError = "ENGINE_EXECUTION_ERROR"
	CodeEngineOutputError    = "ENGINE_OUTPUT_ERROR"
	CodeStorageError         = "STORAGE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody - структура тела ответа ошибки.
type errorBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   errorDetail `json:"error"`
}

// errorDetail - детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Row - строка CSV (только для ошибок валидации файла)
	Row int `json:"row,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteRowError(w, statusCode, code, message, 0)
}

// WriteRowError записывает ошибку с номером строки CSV (0 - без строки).
func WriteRowError(w http.ResponseWriter, statusCode int, code, message string, row int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Success: false,
		Message: message,
		Error: errorDetail{
			Code:    code,
			Message: message,
			Row:     row,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// PayloadTooLarge - 413 превышен размер загрузки.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// NotFound - 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized - 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InternalError - 500 внутренняя ошибка сервера.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
