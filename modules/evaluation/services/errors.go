package services

import (
	"fmt"
)

const (
	CodeHistoryNotFound = "HISTORY_NOT_FOUND"
	CodeHistoryExists   = "HISTORY_EXISTS"
	CodeEntityInUse     = "ENTITY_IN_USE"
	CodeUnknownEntity   = "UNKNOWN_ENTITY"
	CodeInvalidInput    = "INVALID_INPUT"

	CodeWizardNotFound    = "WIZARD_NOT_FOUND"
	CodeWizardInvalidStep = "WIZARD_INVALID_STEP"
)

// ServiceError carries a stable code; controllers map it to an HTTP status.
type ServiceError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func NewServiceError(code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Cause: cause}
}
