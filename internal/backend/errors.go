package backend

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnsupported        = errors.New("operation not supported by backend")
)

type unavailableError struct {
	backend string
	err     error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.backend, ErrBackendUnavailable, e.err)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.err}
}

// Unavailable marks err as a connection-level failure of the named backend.
func Unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return &unavailableError{backend: backend, err: err}
}

// PartialWriteError reports a batch where only some items became durable.
type PartialWriteError struct {
	Written   int
	Attempted int
	Err       error
}

func (e *PartialWriteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("partial write: %d of %d items written", e.Written, e.Attempted)
	}
	return fmt.Sprintf("partial write: %d of %d items written: %v", e.Written, e.Attempted, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// WriteResult turns per-item outcomes into the Write return contract.
func WriteResult(written, attempted int, firstErr error) (int, error) {
	if written == attempted {
		return written, nil
	}
	if written == 0 && firstErr != nil {
		return 0, firstErr
	}
	return written, &PartialWriteError{Written: written, Attempted: attempted, Err: firstErr}
}
