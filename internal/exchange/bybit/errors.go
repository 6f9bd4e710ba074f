package bybit

import (
	"errors"
	"fmt"
)

// APIError represents a non-zero retCode from the Bybit API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the Bybit error code (exchange.Coder).
func (e *APIError) ErrorCode() int { return e.Code }

// PrecisionRejection reports whether the rejection is a price or quantity
// precision problem (exchange.PrecisionRejecter).
func (e *APIError) PrecisionRejection() bool {
	return e.Code == ErrCodeInvalidQuantity || e.Code == ErrCodeInvalidPrice
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeLeverageNotModified = 110043
)

// ParseAPIError converts a retCode/retMsg pair to an error, nil on success.
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return &APIError{Code: retCode, Message: retMsg}
}

// IsRetryableError reports whether the error is transient: rate limiting or
// a server-side failure. Rejections caused by the request itself are never
// retryable.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeRateLimitExceeded, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// IsOrderNotFoundError reports whether the error means the order no longer
// exists. Cancelling an already-filled or already-cancelled order lands here
// and is not a failure for callers that only need the order gone.
func IsOrderNotFoundError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeOrderNotFound
}

// IsPrecisionError reports whether the rejection is an obvious price or
// quantity precision problem that a re-round against the instrument limits
// can correct.
func IsPrecisionError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidQuantity, ErrCodeInvalidPrice:
			return true
		}
	}
	return false
}

// IsAuthenticationError reports whether the error is a credential problem.
func IsAuthenticationError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// ErrorCode extracts the Bybit error code from err, 0 if not an APIError.
func ErrorCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
