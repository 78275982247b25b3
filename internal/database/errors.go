package database

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable classifies failures talking to the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMemberNotFound is returned when a member id is unknown to the store.
	ErrMemberNotFound = errors.New("member not found")
	// ErrCorruptEmbedding is returned for stored vectors that cannot be decoded.
	ErrCorruptEmbedding = errors.New("corrupt embedding")
	// ErrInvalidRecord is returned by constructors given out-of-range values.
	ErrInvalidRecord = errors.New("invalid record")
)

// StoreError wraps a storage failure with the operation that hit it.
// It matches ErrStoreUnavailable with errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Unavailable wraps err as a StoreError for op. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// DimensionMismatchError reports a vector whose length differs from the index.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrInvalidRecord
}
