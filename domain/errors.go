package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced group, habit or fact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable marks read/write failures of the backing store. Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidFrequency   = errors.New("invalid frequency")
	ErrInvalidFeeling     = errors.New("invalid feeling")
	ErrInvalidDate        = errors.New("invalid date")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
)

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorageUnavailable) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Retryable reports whether the operation may succeed when attempted again.
func (e *StorageError) Retryable() bool { return true }

// NewStorageError wraps err for op. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
