package discovery

import (
	"errors"
	"fmt"
)

var (
	ErrAdapterUnavailable = errors.New("radio adapter is off or unavailable")
	ErrStackUnsupported   = errors.New("radio stack is not supported")
	ErrAborted            = errors.New("radio operation aborted")
	ErrWorkManagerStopped = errors.New("work manager is shut down")
	ErrPairingFailed      = errors.New("pairing failed")
	ErrNoFleetMatch       = errors.New("no fleet entry matches device")
)

// RadioError describes a failed call into the radio stack.
type RadioError struct {
	Op      string // "inquiry", "search", "pair", "unpair", "name"
	Address string // empty for inquiries
	Err     error
}

func (e *RadioError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("radio %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("radio %s %s: %v", e.Op, e.Address, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *RadioError) Unwrap() error {
	return e.Err
}

func radioErr(op string, id Identity, err error) error {
	if err == nil {
		return nil
	}
	return &RadioError{Op: op, Address: id.Address, Err: err}
}
