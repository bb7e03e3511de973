package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks failures talking to the store.
	ErrTransport = errors.New("store: transport failure")
	// ErrPartialBatch marks an atomic unit that observed the pending set out
	// of step with the backing structure.
	ErrPartialBatch = errors.New("store: partial batch")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// TransportError wraps a failed store round-trip.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Transport wraps err as a TransportError unless it is nil or already one.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// PartialBatchError lists the members whose pending mark was missing when
// the operation expected it.
type PartialBatchError struct {
	Op      string
	Members []string
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("store %s: pending set missing %d member(s): %s",
		e.Op, len(e.Members), strings.Join(e.Members, ","))
}

func (e *PartialBatchError) Unwrap() error { return ErrPartialBatch }
