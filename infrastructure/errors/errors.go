// Package errors provides unified error handling for the capital engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code surfaced in the error envelope.
type ErrorCode string

const (
	// Input validation
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeBelowThreshold       ErrorCode = "BELOW_THRESHOLD"
	ErrCodeInvalidDateSequence  ErrorCode = "INVALID_DATE_SEQUENCE"
	ErrCodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidEnumValue     ErrorCode = "INVALID_ENUM_VALUE"
	ErrCodeDuplicatePeriod      ErrorCode = "DUPLICATE_PERIOD"

	// Loss-data governance
	ErrCodeMissingRBIApproval    ErrorCode = "MISSING_RBI_APPROVAL"
	ErrCodeIncompleteRBIApproval ErrorCode = "INCOMPLETE_RBI_APPROVAL"
	ErrCodeRecoveryExceedsGross  ErrorCode = "RECOVERY_EXCEEDS_GROSS"

	// Calculation domain
	ErrCodeInsufficientData    ErrorCode = "INSUFFICIENT_DATA"
	ErrCodeNoPositiveGIYears   ErrorCode = "NO_POSITIVE_GI_YEARS"
	ErrCodeUnknownMethodology  ErrorCode = "UNKNOWN_METHODOLOGY"
	ErrCodeConsolidationCycle  ErrorCode = "CONSOLIDATION_HIERARCHY_CYCLE"
	ErrCodeEntityNotFound      ErrorCode = "ENTITY_NOT_FOUND"
	ErrCodeCalculationNotFound ErrorCode = "CALCULATION_NOT_FOUND"

	// Governance workflows
	ErrCodeWorkflowInvalidTransition ErrorCode = "PARAMETER_WORKFLOW_INVALID_TRANSITION"
	ErrCodeWorkflowRoleDenied        ErrorCode = "PARAMETER_WORKFLOW_ROLE_DENIED"
	ErrCodeParameterNotFound         ErrorCode = "PARAMETER_NOT_FOUND"
	ErrCodeOverrideNotApproved       ErrorCode = "OVERRIDE_NOT_APPROVED"
	ErrCodeOverrideInvalidTransition ErrorCode = "OVERRIDE_INVALID_TRANSITION"
	ErrCodeOverrideNotFound          ErrorCode = "OVERRIDE_NOT_FOUND"

	// Jobs and lineage
	ErrCodeJobNotFound     ErrorCode = "JOB_NOT_FOUND"
	ErrCodeJobCancelled    ErrorCode = "JOB_CANCELLED"
	ErrCodeLineageNotFound ErrorCode = "LINEAGE_NOT_FOUND"

	// System
	ErrCodeInternal ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"error_code"`
	Message    string                 `json:"error_message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation constructs a recoverable input-validation error.
func Validation(message string) *ServiceError {
	return New(ErrCodeValidation, message, http.StatusUnprocessableEntity)
}

// MissingField reports an absent required field.
func MissingField(field string) *ServiceError {
	return New(ErrCodeMissingRequiredField, fmt.Sprintf("Required field %q is missing", field),
		http.StatusUnprocessableEntity).WithDetails("field", field)
}

// InvalidEnum reports a value outside an enumeration.
func InvalidEnum(field, value string) *ServiceError {
	return New(ErrCodeInvalidEnumValue, fmt.Sprintf("Value %q is not valid for %s", value, field),
		http.StatusUnprocessableEntity).WithDetails("field", field).WithDetails("value", value)
}

// NotFound constructs a typed not-found error.
func NotFound(code ErrorCode, message string) *ServiceError {
	return New(code, message, http.StatusNotFound)
}

// InvalidTransition reports an illegal state-machine transition.
func InvalidTransition(code ErrorCode, from, action string) *ServiceError {
	return New(code, fmt.Sprintf("Action %q is not permitted in state %q", action, from),
		http.StatusConflict).WithDetails("state", from).WithDetails("action", action)
}

// InsufficientData reports that a calculation lacks qualifying input periods.
func InsufficientData(message string) *ServiceError {
	return New(ErrCodeInsufficientData, message, http.StatusUnprocessableEntity)
}

// Internal wraps an unexpected error behind an opaque envelope.
func Internal(err error) *ServiceError {
	return Wrap(ErrCodeInternal, "An internal error occurred", http.StatusInternalServerError, err)
}

// Is checks whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf extracts the error code from err, defaulting to INTERNAL_SERVER_ERROR.
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
