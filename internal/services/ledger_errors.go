package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinylogix/api/internal/repositories"
)

var (
	// ErrLedgerInvalidInput signals malformed lines, identifiers or quantities.
	ErrLedgerInvalidInput = errors.New("ledger: invalid input")
	// ErrItemNotFound indicates the item does not exist for the tenant.
	ErrItemNotFound = errors.New("ledger: item not found")
	// ErrInsufficientStock indicates shelf plus storage cannot cover a line.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrNegativeStockAdjustment indicates an adjustment would leave a pool below zero.
	ErrNegativeStockAdjustment = errors.New("ledger: negative stock adjustment")
	// ErrPermissionDenied indicates the caller's tenant does not own the resource.
	ErrPermissionDenied = errors.New("ledger: permission denied")
	// ErrLedgerUnavailable indicates the backing store could not be reached.
	ErrLedgerUnavailable = errors.New("ledger: unavailable")
)

// InsufficientStockError reports the first line that could not be satisfied.
type InsufficientStockError struct {
	ItemID    string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: item %s has %d, requested %d", ErrInsufficientStock, e.ItemID, e.Available, e.Requested)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// mapStockError translates repository failures into the ledger taxonomy.
func mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrLedgerInvalidInput, stockErr.Message)
		case repositories.StockErrorItemNotFound:
			return fmt.Errorf("%w: %s", ErrItemNotFound, stockErr.ItemID)
		case repositories.StockErrorInsufficientStock:
			return &InsufficientStockError{
				ItemID:    stockErr.ItemID,
				Available: stockErr.Available,
				Requested: stockErr.Requested,
			}
		case repositories.StockErrorNegativeAdjustment:
			return fmt.Errorf("%w: %s", ErrNegativeStockAdjustment, stockErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func noopLogger(context.Context, string, map[string]any) {}
