package utils

import "net/http"

// AppError carries an HTTP status alongside a user-facing message so
// handlers can map service failures without inspecting error strings.
type AppError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{StatusCode: http.StatusNotFound, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{StatusCode: http.StatusConflict, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{StatusCode: http.StatusUnauthorized, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message}
}

// NewInternalErrorWithDetails keeps the underlying failure text so the
// dispatch endpoints can return {error, details} bodies.
func NewInternalErrorWithDetails(message, details string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message, Details: details}
}
