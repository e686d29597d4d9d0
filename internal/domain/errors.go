package domain

import (
	"errors"
	"fmt"
)

// Ошибки приложения
var (
	// ErrNotFound запись не найдена (неизвестная заявка, номер без владельца, нет
	// сессии)
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput некорректный ввод от пользователя или callback
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthorized вызывающему операция не разрешена
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyUsed пробный период уже использован
	ErrAlreadyUsed = errors.New("trial already used")

	// ErrAlreadyDecided заявка больше не ожидает решения
	ErrAlreadyDecided = errors.New("request already decided")

	// ErrPlanNotFound неизвестный тариф или пробный там, где нужен платный
	ErrPlanNotFound = errors.New("plan not found")

	// ErrNoAccess у пользователя нет активного доступа
	ErrNoAccess = errors.New("no active subscription")

	// ErrInvalidCredential учетные данные провайдера не прошли проверку
	ErrInvalidCredential = errors.New("invalid provisioning credential")

	// ErrSessionNotVerified действия с номерами требуют проверенной сессии
	ErrSessionNotVerified = errors.New("provisioning session not verified")

	// ErrInsufficientBalance приведенный баланс меньше стоимости
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyTaken номер больше недоступен (у провайдера или занят локально)
	ErrAlreadyTaken = errors.New("number already taken")

	// ErrBackend непрозрачная ошибка внешнего сервиса
	ErrBackend = errors.New("provisioning backend error")

	// ErrMalformedCallback нагрузка кнопки, которую не удалось декодировать
	ErrMalformedCallback = errors.New("malformed callback payload")
)

// ExternalServiceError представляет ошибку при вызове внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено" для конкретной сущности
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is сообщает, является ли target ошибкой ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
