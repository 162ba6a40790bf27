package regpoll

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Fault tells the poller what to do with a failed read.
type Fault int

const (
	// FaultTransient skips the register for the current cycle.
	FaultTransient Fault = iota
	// FaultFatal aborts the cycle and stops polling.
	FaultFatal
)

func (f Fault) String() string {
	switch f {
	case FaultTransient:
		return "transient"
	case FaultFatal:
		return "fatal"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// ConfigError reports an invalid poll schedule or configuration entry.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigError for field.
func Configf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientReadError is a single failed register read. The bus is still usable.
type TransientReadError struct {
	Address uint16
	Err     error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("transient read error at %#x: %v", e.Address, e.Err)
}

func (e *TransientReadError) Unwrap() error {
	return e.Err
}

// FatalBusError means the bus handle itself is gone (closed, disconnected).
type FatalBusError struct {
	Err error
}

func (e *FatalBusError) Error() string {
	return fmt.Sprintf("fatal bus error: %v", e.Err)
}

func (e *FatalBusError) Unwrap() error {
	return e.Err
}

// Transient tags err as a transient read failure.
func Transient(address uint16, err error) error {
	if err == nil {
		return nil
	}
	return &TransientReadError{Address: address, Err: err}
}

// Fatal tags err as a fatal bus failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fatal *FatalBusError
	if errors.As(err, &fatal) {
		return err
	}
	return &FatalBusError{Err: err}
}

// Classify is the default fault classifier. Explicitly tagged errors win,
// closed resources are fatal and everything else is treated as transient.
func Classify(err error) Fault {
	var fatal *FatalBusError
	if errors.As(err, &fatal) {
		return FaultFatal
	}
	var transient *TransientReadError
	if errors.As(err, &transient) {
		return FaultTransient
	}
	switch {
	case errors.Is(err, ErrBusClosed),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, io.EOF):
		return FaultFatal
	}
	return FaultTransient
}
