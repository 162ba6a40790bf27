package regpoll

import (
	"context"
	"fmt"
)

// ErrBusBusy is returned when the bus is held by another transfer. It is
// transient.
var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrBusClosed is returned by every operation on a released bus. It is
// fatal.
var ErrBusClosed = fmt.Errorf("bus is closed")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a raw transport able to address devices on a shared bus.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// RegisterBus is a session against a single device exposing addressable
// registers. Values are returned exactly as the device delivers them.
// Implementations tag errors with Transient or Fatal when they know which
// kind of failure occurred.
type RegisterBus interface {
	ReadUint8(ctx context.Context, address uint16) (byte, error)
	ReadWord(ctx context.Context, address uint16) (uint16, error)
	ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error)
}
