package store

import "fmt"

// StorageError wraps a persistence I/O failure. Callers treat any write that returns a
// StorageError as "did not happen"; partial success is never assumed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
