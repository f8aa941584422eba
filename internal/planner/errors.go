package planner

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cockroachdb/errors"

	"databay/internal/engine"
	"databay/internal/link"
)

var (
	ErrAlreadyRunning = engine.ErrAlreadyRunning
	ErrNotRunning     = engine.ErrNotRunning
)

// MissingHandleError is returned by Remove for handles that were not registered.
// The registered handles of the same call are still removed.
type MissingHandleError struct {
	Handles []link.Handle
}

func (e *MissingHandleError) Error() string {
	names := make([]string, 0, len(e.Handles))
	for _, h := range e.Handles {
		names = append(names, handleName(h))
	}
	return fmt.Sprintf("planner: %d link(s) not registered: %s", len(e.Handles), strings.Join(names, ", "))
}

// PanicError is a recovered panic from a link transfer.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("transfer panicked: %v", e.Value) }

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// transfer runs h.Transfer behind a single failure boundary: returned errors and
// panics of any kind come back as an error.
func transfer(run func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if err = run(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func handleName(h link.Handle) string {
	if h == nil {
		return "<nil>"
	}
	if n := h.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("%T", h)
}
