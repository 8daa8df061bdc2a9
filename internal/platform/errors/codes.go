// Package errors provides structured error handling for the cycle service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Configuration errors
	CodeConfigMissing Code = "CONFIG_MISSING"

	// Authorization errors
	CodeTriggerUnauthorized Code = "TRIGGER_UNAUTHORIZED"
	CodeRateLimited         Code = "RATE_LIMITED"

	// Validation errors
	CodeSessionPayloadInvalid Code = "SESSION_PAYLOAD_INVALID"
	CodeCoordinateInvalid     Code = "COORDINATE_INVALID"

	// Ledger errors
	CodeLedgerReadFailed    Code = "LEDGER_READ_FAILED"
	CodeLedgerSubmitFailed  Code = "LEDGER_SUBMIT_FAILED"
	CodeLedgerConfirmFailed Code = "LEDGER_CONFIRM_FAILED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeTriggerUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSessionPayloadInvalid, CodeCoordinateInvalid:
		return http.StatusBadRequest
	case CodeConfigMissing,
		CodeLedgerReadFailed,
		CodeLedgerSubmitFailed,
		CodeLedgerConfirmFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
