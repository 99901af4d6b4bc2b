package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorNegative indicates a write would leave a pool below zero.
	StockErrorNegative StockErrorCode = "stock_negative"
	// StockErrorNotFound indicates the product or option has no stock row.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorNotLocked indicates a write to a row that was not locked by the current unit of work.
	StockErrorNotLocked StockErrorCode = "stock_not_locked"
	// StockErrorTxRequired indicates the call was made outside RunInTx.
	StockErrorTxRequired StockErrorCode = "stock_tx_required"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
