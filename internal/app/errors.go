package app

import (
	"fmt"
	"net/http"
	"strings"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFound reports a missing entity, e.g. "Ticket with ID 42 not found".
func notFound(kind, id string) *DomainError {
	label := kind
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s with ID %s not found", label, id), map[string]any{"kind": kind, "id": id})
}

func orderConflict() *DomainError {
	return domainError(http.StatusConflict, "ORDER_CONFLICT", "The column was modified concurrently, please retry", nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func unauthorized(message string) *DomainError {
	if message == "" {
		message = "Unauthorized"
	}
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func conflict(code, message string) *DomainError {
	return domainError(http.StatusConflict, code, message, nil)
}
