package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on error code so errors.Is(err, apperror.ErrQuoteConsumed()) works
// regardless of the wrapped cause.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the AppError code carried by err, or "" for plain errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Validation (VAL) ----

// Validation returns a VAL_001 error for malformed input. Never retryable.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Invalid amount", http.StatusBadRequest)
}

func ErrInvalidAddress(field string) *AppError {
	return New("VAL_003", fmt.Sprintf("Invalid %s address", field), http.StatusBadRequest)
}

func ErrInvalidSlippage(minBps, maxBps int) *AppError {
	return New("VAL_004", fmt.Sprintf("Slippage must be between %d and %d bps", minBps, maxBps), http.StatusBadRequest)
}

// ---- Key Vault (VAULT) ----

// ErrAuthentication is returned when an envelope fails authenticated decryption
// or the decrypted key does not derive the stored address.
func ErrAuthentication(err error) *AppError {
	return Wrap("VAULT_001", "Key material failed authentication", http.StatusInternalServerError, err)
}

func ErrKeyNotFound() *AppError {
	return New("VAULT_002", "Key material not found", http.StatusNotFound)
}

func ErrSigningTimeout() *AppError {
	return New("VAULT_003", "Signing window elapsed", http.StatusGatewayTimeout)
}

// ---- Wallet Registry (WAL) ----

// ErrGeneration signals an entropy source failure. Fatal, never retried.
func ErrGeneration(err error) *AppError {
	return Wrap("WAL_001", "Key generation failed", http.StatusInternalServerError, err)
}

func ErrInvalidKey(reason string) *AppError {
	return New("WAL_002", "Invalid private key: "+reason, http.StatusBadRequest)
}

func ErrWalletLimit(limit int) *AppError {
	return New("WAL_003", fmt.Sprintf("Wallet limit of %d reached", limit), http.StatusUnprocessableEntity)
}

// ---- Quote Engine (QUO) ----

func ErrInsufficientLiquidity() *AppError {
	return New("QUO_001", "Pool cannot satisfy the requested amount", http.StatusUnprocessableEntity)
}

func ErrStalePoolState() *AppError {
	return New("QUO_002", "Pool state is stale", http.StatusServiceUnavailable)
}

func ErrQuoteExpired() *AppError {
	return New("QUO_003", "Quote has expired", http.StatusConflict)
}

func ErrQuoteConsumed() *AppError {
	return New("QUO_004", "Quote has already been used", http.StatusConflict)
}

func ErrPoolNotFound() *AppError {
	return New("QUO_005", "No pool for token pair", http.StatusNotFound)
}

// ---- Trade Executor (TRD) ----

func ErrSubmissionFailed(err error) *AppError {
	return Wrap("TRD_001", "Transaction submission failed", http.StatusBadGateway, err)
}

func ErrTradeCancelled() *AppError {
	return New("TRD_002", "Trade cancelled before submission", http.StatusConflict)
}

func ErrWalletBusy(err error) *AppError {
	return Wrap("TRD_003", "Wallet has a trade in flight", http.StatusConflict, err)
}

// ---- Order Ledger (LED) ----

// ErrInvalidTransition indicates a programming or concurrency defect; callers abort.
func ErrInvalidTransition(from, to string) *AppError {
	return New("LED_001", fmt.Sprintf("Illegal order transition %s -> %s", from, to), http.StatusConflict)
}

func ErrDuplicateOrder() *AppError {
	return New("LED_002", "Order already recorded", http.StatusConflict)
}

// ---- Generic ----

func ErrNotFound(entity string) *AppError {
	return New("NF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Chain client unavailable", http.StatusBadGateway, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
