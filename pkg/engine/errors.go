package engine

import (
	"fmt"

	"golang.org/x/xerrors"
)

// EngineError wraps a container-engine failure with its status code so
// callers can distinguish "not found" (absorbed elsewhere as a nil
// result) from genuine failures.
type EngineError struct {
	Status  int
	Message string
	frame   xerrors.Frame
}

func newEngineError(status int, message string) *EngineError {
	return &EngineError{Status: status, Message: message, frame: xerrors.Caller(1)}
}

func (e *EngineError) FormatError(p xerrors.Printer) error {
	p.Printf("engine error %d: %s", e.Status, e.Message)
	e.frame.Format(p)
	return nil
}

func (e *EngineError) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

func (e *EngineError) Error() string {
	return fmt.Sprint(e)
}

// IsNotFound reports whether err is an EngineError carrying a 404 status,
// i.e. the engine's way of saying "no such container/image".
func IsNotFound(err error) bool {
	var engineErr *EngineError
	if xerrors.As(err, &engineErr) {
		return engineErr.Status == 404
	}
	return false
}
