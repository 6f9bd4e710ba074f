package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Severity classifies how loudly an error must be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "INFO"     // rejected before reaching the exchange
	SeverityWarning  Severity = "WARN"     // exchange-side rejection, nothing opened
	SeverityCritical Severity = "CRITICAL" // a position existed without protection
	SeverityFatal    Severity = "FATAL"    // session loss cap breached
)

// RiskBlockedError is a pre-trade rejection. The order never reached the
// exchange and must not be retried.
type RiskBlockedError struct {
	Rule   int
	Reason string
}

func (e *RiskBlockedError) Error() string {
	if e.Rule > 0 {
		return fmt.Sprintf("risk blocked (rule %d): %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("risk blocked: %s", e.Reason)
}

func (e *RiskBlockedError) Severity() Severity { return SeverityInfo }

// ExchangeRejectedError is an exchange-side rejection of an entry order.
// No position was opened. Retried at most once after correcting an obvious
// precision cause, never blindly.
type ExchangeRejectedError struct {
	Code       int
	Message    string
	Corrected  bool // true if a precision-corrected retry was already attempted
	Underlying error
}

func (e *ExchangeRejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange rejected entry (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exchange rejected entry: %s", e.Message)
}

func (e *ExchangeRejectedError) Unwrap() error      { return e.Underlying }
func (e *ExchangeRejectedError) Severity() Severity { return SeverityWarning }

// ProtectionFailedError means a position existed without a protective stop
// after bounded retries. The executor or guardian has already issued an
// emergency market close before this error is returned; EmergencyClosed
// reports whether that close succeeded.
type ProtectionFailedError struct {
	Symbol          string
	EntryOrderID    string
	Attempts        int
	EmergencyClosed bool
	Underlying      error
}

func (e *ProtectionFailedError) Error() string {
	closed := "position emergency-closed"
	if !e.EmergencyClosed {
		closed = "EMERGENCY CLOSE FAILED, position may still be open"
	}
	return fmt.Sprintf("protection failed for %s after %d attempts (%s)", e.Symbol, e.Attempts, closed)
}

func (e *ProtectionFailedError) Unwrap() error      { return e.Underlying }
func (e *ProtectionFailedError) Severity() Severity { return SeverityCritical }

// BudgetExceededError means the session loss cap was breached and the
// panic-close-all has fired. Fires once per session.
type BudgetExceededError struct {
	CurrentLoss float64
	Limit       float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("session budget exceeded: loss $%.2f > limit $%.2f", e.CurrentLoss, e.Limit)
}

func (e *BudgetExceededError) Severity() Severity { return SeverityFatal }

// StaleDataError means a required market snapshot could not be freshly
// fetched. Always fail-closed: reject the trade or skip the guardian step,
// never proceed.
type StaleDataError struct {
	Source     string
	Age        time.Duration
	Underlying error
}

func (e *StaleDataError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("stale market data from %s: %v", e.Source, e.Underlying)
	}
	return fmt.Sprintf("stale market data from %s (age %s)", e.Source, e.Age)
}

func (e *StaleDataError) Unwrap() error      { return e.Underlying }
func (e *StaleDataError) Severity() Severity { return SeverityWarning }

// IsRiskBlocked reports whether err is (or wraps) a RiskBlockedError.
func IsRiskBlocked(err error) bool {
	var target *RiskBlockedError
	return stderrors.As(err, &target)
}

// IsExchangeRejected reports whether err is (or wraps) an ExchangeRejectedError.
func IsExchangeRejected(err error) bool {
	var target *ExchangeRejectedError
	return stderrors.As(err, &target)
}

// IsProtectionFailed reports whether err is (or wraps) a ProtectionFailedError.
func IsProtectionFailed(err error) bool {
	var target *ProtectionFailedError
	return stderrors.As(err, &target)
}

// IsBudgetExceeded reports whether err is (or wraps) a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var target *BudgetExceededError
	return stderrors.As(err, &target)
}

// IsStaleData reports whether err is (or wraps) a StaleDataError.
func IsStaleData(err error) bool {
	var target *StaleDataError
	return stderrors.As(err, &target)
}

// SeverityOf returns the severity class of err, defaulting to WARN for
// uncategorized errors so unknown failures are never silently downgraded.
func SeverityOf(err error) Severity {
	type classified interface{ Severity() Severity }
	var c classified
	if stderrors.As(err, &c) {
		return c.Severity()
	}
	return SeverityWarning
}
