package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock available")
	ErrIDSpaceExhausted  = errors.New("unable to generate unique ID after maximum attempts")
	ErrValidation        = errors.New("validation failed")
	ErrStockOverflow     = errors.New("stock would exceed the maximum")
	// ErrDuplicateID is the storage-level unique violation on insert.
	ErrDuplicateID = errors.New("product id already exists")
)

// NotFoundError reports which product id is missing.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Product with ID %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError is returned when a delta would drive stock below zero.
type InsufficientStockError struct {
	ID        int
	Available int
	Delta     int
}

func (e *InsufficientStockError) Error() string {
	return "Insufficient stock available"
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// StockOverflowError is returned when a delta would push stock past MaxStock.
type StockOverflowError struct {
	ID        int
	Available int
	Delta     int
}

func (e *StockOverflowError) Error() string {
	return fmt.Sprintf("Stock cannot exceed %d", MaxStock)
}

func (e *StockOverflowError) Is(target error) bool { return target == ErrStockOverflow }

// ExhaustedError means every attempt of the id allocator hit an existing product.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s (%d attempts)", ErrIDSpaceExhausted, e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrIDSpaceExhausted }

// ValidationError collects every rule an input violated.
type ValidationError struct {
	Errors []string
}

func NewValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Errors: msgs}
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
