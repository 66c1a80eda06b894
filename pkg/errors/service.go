package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError представляет ошибку сервиса с HTTP-статусом и машиночитаемым кодом
type ServiceError struct {
	Code    int    // HTTP-статус
	Reason  string // Машиночитаемый код ошибки (INSUFFICIENT_STOCK, CONFLICT и т.д.)
	Message string // Сообщение об ошибке
	Err     error  // Исходная ошибка
}

// NewServiceError создает новую ошибку сервиса
func NewServiceError(code int, reason, message string, err error) *ServiceError {
	return &ServiceError{
		Code:    code,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Error реализует интерфейс error
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap возвращает оригинальную ошибку
func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(resourceType string, id interface{}) *ServiceError {
	message := fmt.Sprintf("%s с ID=%v не найден", resourceType, id)
	return NewServiceError(http.StatusNotFound, "NOT_FOUND", message, ErrNotFound)
}

// NewConflictError создает ошибку конфликта параллельного доступа (исчерпаны повторы оптимистичной записи)
func NewConflictError(message string, err error) *ServiceError {
	if message == "" {
		message = "Конфликт параллельного доступа, повторите запрос позже"
	}
	return NewServiceError(http.StatusConflict, "CONFLICT", message, err)
}

// NewBusinessError создает ошибку бизнес-правила с машиночитаемым кодом
func NewBusinessError(reason, message string, err error) *ServiceError {
	return NewServiceError(http.StatusUnprocessableEntity, reason, message, err)
}

func NewInternalServerError(err error) *ServiceError {
	return NewServiceError(http.StatusInternalServerError, "INTERNAL", "Внутренняя ошибка сервера", err)
}

// ToHTTPResponse преобразует ошибку в HTTP-ответ
func ToHTTPResponse(err error) (int, interface{}) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code, HTTPErrorResponse{
			Error: se.Message,
			Code:  se.Reason,
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, HTTPErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		}
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict, HTTPErrorResponse{
			Error: err.Error(),
			Code:  "ALREADY_EXISTS",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, HTTPErrorResponse{
			Error: err.Error(),
			Code:  "CONFLICT",
		}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, HTTPErrorResponse{
			Error: err.Error(),
			Code:  "BAD_REQUEST",
		}
	default:
		return http.StatusInternalServerError, HTTPErrorResponse{
			Error: "Внутренняя ошибка сервера",
			Code:  "INTERNAL",
		}
	}
}
