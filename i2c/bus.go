package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/regpoll"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ regpoll.I2CBus = &GenericBus{}

// GenericBus is an I2C bus exposed by the host (e.g. /dev/i2c-1) through periph.
type GenericBus struct {
	mx     sync.Mutex
	bus    i2c.BusCloser
	closed bool
}

type BusOption func(*GenericBus) error

// WithSpeed sets the bus clock. Not every host driver supports it.
func WithSpeed(hz int64) BusOption {
	return func(b *GenericBus) error {
		if hz <= 0 {
			return nil
		}
		return b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz)
	}
}

// NewGenericBus initializes periph host drivers and opens the named bus.
// An empty name opens the first available bus.
func NewGenericBus(dev string, opts ...BusOption) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	for _, failure := range state.Failed {
		slog.Debug("host driver failed", "driver", failure.D.String(), "err", failure.Err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", dev, err)
	}
	return NewBus(bus, opts...)
}

// NewBus wraps an already opened periph bus.
func NewBus(bus i2c.BusCloser, opts ...BusOption) (*GenericBus, error) {
	b := &GenericBus{bus: bus}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("could not configure i2c bus: %w", err)
		}
	}
	return b, nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, nil, buffer)
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, buffer, nil)
}

// Tx runs a combined write/read transaction with a repeated start.
func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return regpoll.ErrBusClosed
	}
	err := b.bus.Tx(uint16(address), w, r)
	if err != nil {
		return fmt.Errorf("i2c transaction with %#x failed: %w", address, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

// Close closes the underlying bus. Further transactions fail with
// regpoll.ErrBusClosed.
func (b *GenericBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.bus.Close()
}
