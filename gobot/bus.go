// Package gobot reads registers through gobot I2C drivers using SMBus
// byte, word and block data transfers.
package gobot

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/mklimuk/regpoll"
)

var _ regpoll.RegisterBus = &Bus{}

type smbus interface {
	ReadByteData(reg uint8) (uint8, error)
	ReadWordData(reg uint8) (uint16, error)
	ReadBlockData(reg uint8, data []byte) error
}

// Bus is a register session with one device behind a gobot I2C connector.
// Words are returned in SMBus (little endian) order unless SwapBytes is set.
type Bus struct {
	mx     sync.Mutex
	conn   smbus
	halt   func() error
	swap   bool
	closed bool
}

type Option func(*Bus)

// SwapBytes returns words with the first transferred byte as the high byte.
func SwapBytes() Option {
	return func(b *Bus) {
		b.swap = true
	}
}

// New starts a generic driver for address on the given bus number of the
// connector.
func New(connector i2c.Connector, busNr, address int, opts ...Option) (*Bus, error) {
	driver := i2c.NewGenericDriver(connector, "regpoll", address, func(c i2c.Config) {
		c.SetBus(busNr)
	})
	if err := driver.Start(); err != nil {
		return nil, fmt.Errorf("gobot: start driver for %#x: %w", address, err)
	}
	return newBus(driver, driver.Halt, opts...), nil
}

// NewRaspi connects the Raspberry Pi adaptor and opens address on busNr.
// Closing the bus finalizes the adaptor.
func NewRaspi(busNr, address int, opts ...Option) (*Bus, error) {
	adaptor := raspi.NewAdaptor()
	if err := adaptor.Connect(); err != nil {
		return nil, fmt.Errorf("gobot: adaptor connect error: %w", err)
	}
	b, err := New(adaptor, busNr, address, opts...)
	if err != nil {
		_ = adaptor.Finalize()
		return nil, err
	}
	halt := b.halt
	b.halt = func() error {
		err := halt()
		if ferr := adaptor.Finalize(); err == nil {
			err = ferr
		}
		return err
	}
	return b, nil
}

func newBus(conn smbus, halt func() error, opts ...Option) *Bus {
	b := &Bus{conn: conn, halt: halt}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) ReadUint8(ctx context.Context, address uint16) (byte, error) {
	reg, err := b.acquire(address)
	if err != nil {
		return 0, err
	}
	defer b.mx.Unlock()
	val, err := b.conn.ReadByteData(reg)
	if err != nil {
		return 0, fmt.Errorf("gobot: read byte data %#x: %w", reg, err)
	}
	return val, nil
}

func (b *Bus) ReadWord(ctx context.Context, address uint16) (uint16, error) {
	reg, err := b.acquire(address)
	if err != nil {
		return 0, err
	}
	defer b.mx.Unlock()
	val, err := b.conn.ReadWordData(reg)
	if err != nil {
		return 0, fmt.Errorf("gobot: read word data %#x: %w", reg, err)
	}
	if b.swap {
		val = bits.ReverseBytes16(val)
	}
	return val, nil
}

func (b *Bus) ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error) {
	reg, err := b.acquire(address)
	if err != nil {
		return nil, err
	}
	defer b.mx.Unlock()
	data := make([]byte, length)
	if err := b.conn.ReadBlockData(reg, data); err != nil {
		return nil, fmt.Errorf("gobot: read block data %#x: %w", reg, err)
	}
	return data, nil
}

// acquire locks the bus and returns the SMBus command for address. The
// caller unlocks on success.
func (b *Bus) acquire(address uint16) (uint8, error) {
	if address > 0xFF {
		return 0, fmt.Errorf("gobot: register %#x is not an SMBus command", address)
	}
	b.mx.Lock()
	if b.closed {
		b.mx.Unlock()
		return 0, regpoll.ErrBusClosed
	}
	return uint8(address), nil
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.halt == nil {
		return nil
	}
	return b.halt()
}
