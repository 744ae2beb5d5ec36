// Package validation defines the violation-list result shape shared by the
// loss-data pipeline and the calculation dispatcher. Validators collect every
// violation instead of failing on the first.
package validation

import "github.com/logicthinker/orm-capital-engine/infrastructure/errors"

// Error is one validation violation.
type Error struct {
	ErrorCode    errors.ErrorCode       `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Field        string                 `json:"field,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Result aggregates the outcome of validating a batch of records.
type Result struct {
	Success         bool    `json:"success"`
	RecordsProcessed int    `json:"records_processed"`
	RecordsAccepted  int    `json:"records_accepted"`
	RecordsRejected  int    `json:"records_rejected"`
	Errors          []Error `json:"errors,omitempty"`
}

// NewResult builds an empty, successful result.
func NewResult() *Result {
	return &Result{Success: true}
}

// Reject records a rejected record with its violations.
func (r *Result) Reject(errs ...Error) {
	r.RecordsProcessed++
	r.RecordsRejected++
	r.Success = false
	r.Errors = append(r.Errors, errs...)
}

// Accept records an accepted record.
func (r *Result) Accept() {
	r.RecordsProcessed++
	r.RecordsAccepted++
}

// Violation constructs a single validation error.
func Violation(code errors.ErrorCode, field, message string) Error {
	return Error{ErrorCode: code, ErrorMessage: message, Field: field}
}
