package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrConflict            ErrorCode = "CONFLICT"
	ErrBadRequest          ErrorCode = "BAD_REQUEST"
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrInternalServer      ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	ErrInvalidHoldState    ErrorCode = "INVALID_HOLD_STATE"
	ErrInvalidTransition   ErrorCode = "INVALID_BATCH_TRANSITION"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrSignatureInvalid    ErrorCode = "SIGNATURE_VERIFICATION_FAILED"
	ErrDuplicate           ErrorCode = "DUPLICATE"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err is an APIError carrying the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// Retryable reports whether the error is transient. Only optimistic conflicts
// and provider outages may be retried; integrity violations never are.
func Retryable(err error) bool {
	return Is(err, ErrConflict) || Is(err, ErrProviderUnavailable)
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrInvalidTransition, ErrInvalidHoldState:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrInsufficientFunds:
			return http.StatusPaymentRequired
		case ErrSignatureInvalid:
			return http.StatusUnauthorized
		case ErrProviderUnavailable:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
