package store

import (
	"errors"
	"fmt"
)

// Common errors for store construction and operations.
var (
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrInvalidDriver = errors.New("invalid store driver")
	// ErrUnavailable matches every StorageError: the backing storage could not
	// be read or written.
	ErrUnavailable = errors.New("storage unavailable")
	ErrClosed      = errors.New("store is closed")
	// ErrLockTimeout is returned when a namespace lease could not be acquired
	// in time.
	ErrLockTimeout = errors.New("namespace lock timeout")
)

// StorageError records a failed driver operation.
type StorageError struct {
	Op        string
	Namespace string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("store %s %q/%q: %v", e.Op, e.Namespace, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes every StorageError match ErrUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrUnavailable
}

func wrap(op, namespace, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Namespace: namespace, Key: key, Err: err}
}
