package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInvalidInput indicates malformed lines or identifiers.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
	// StockErrorItemNotFound indicates the item is absent or owned by another tenant.
	StockErrorItemNotFound StockErrorCode = "stock_item_not_found"
	// StockErrorInsufficientStock indicates shelf plus storage cannot cover the request.
	StockErrorInsufficientStock StockErrorCode = "stock_insufficient"
	// StockErrorNegativeAdjustment indicates an adjustment would drive a pool below zero.
	StockErrorNegativeAdjustment StockErrorCode = "stock_negative_adjustment"
)

// StockError wraps ledger failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	Message   string
	ItemID    string
	Available int
	Requested int
	Err       error
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

// NewStockError constructs a typed ledger error.
func NewStockError(code StockErrorCode, itemID, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		ItemID:  itemID,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError records how much was available against the request.
func NewInsufficientStockError(itemID string, available, requested int) *StockError {
	err := NewStockError(StockErrorInsufficientStock, itemID,
		fmt.Sprintf("insufficient stock for %s: available %d, requested %d", itemID, available, requested), nil)
	err.Available = available
	err.Requested = requested
	return err
}
