package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("balance not found")
	ErrCorrupt  = errors.New("balance record corrupt")
)

// PersistenceError is a failure to read or write the balance store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
