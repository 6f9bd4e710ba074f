package exchange

import "errors"

// PrecisionRejecter is implemented by gateway errors that represent a
// price/quantity precision rejection, the one entry failure the executor is
// allowed to correct and resubmit once.
type PrecisionRejecter interface {
	PrecisionRejection() bool
}

// Coder is implemented by gateway errors that carry the exchange's numeric
// error code.
type Coder interface {
	ErrorCode() int
}

// IsPrecisionRejection reports whether err is a correctable precision
// rejection.
func IsPrecisionRejection(err error) bool {
	var pr PrecisionRejecter
	return errors.As(err, &pr) && pr.PrecisionRejection()
}

// RejectionCode returns the exchange's numeric error code, 0 if absent.
func RejectionCode(err error) int {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return 0
}
