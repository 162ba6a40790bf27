// Package spi reads registers over a periph SPI connection. A read clocks out
// a header followed by dummy bytes and keeps what the device shifts back
// after the header.
package spi

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/regpoll"
)

// DefaultReadMask is OR-ed into the register byte by sensors that use the
// top bit as the read flag.
const DefaultReadMask = 0x80

var _ regpoll.RegisterBus = &Bus{}

// Bus is a register session with one SPI device.
type Bus struct {
	mx     sync.Mutex
	conn   conn.Conn
	closer func() error
	closed bool
	header func(address uint16) ([]byte, error)
	order  binary.ByteOrder
}

type Option func(*Bus)

// WithReadMask sets the bits OR-ed into a one byte register header.
func WithReadMask(mask byte) Option {
	return func(b *Bus) {
		b.header = func(address uint16) ([]byte, error) {
			if (address > 0x7F && mask&0x80 != 0) || address > 0xFF {
				return nil, fmt.Errorf("spi: register %#x collides with read mask %#x", address, mask)
			}
			return []byte{byte(address) | mask}, nil
		}
	}
}

// WithReadCommand frames reads as memory devices do: an instruction byte
// followed by an addressBytes wide big endian address (e.g. READ 0x03 with
// a 24-bit address on a 25AA1024 EEPROM).
func WithReadCommand(cmd byte, addressBytes int) Option {
	return func(b *Bus) {
		b.header = func(address uint16) ([]byte, error) {
			header := make([]byte, 1+addressBytes)
			header[0] = cmd
			a := uint32(address)
			for i := addressBytes; i > 0; i-- {
				header[i] = byte(a)
				a >>= 8
			}
			if a != 0 {
				return nil, fmt.Errorf("spi: address %#x does not fit %d bytes", address, addressBytes)
			}
			return header, nil
		}
	}
}

func WithByteOrder(order binary.ByteOrder) Option {
	return func(b *Bus) {
		b.order = order
	}
}

// Open initializes periph host drivers and connects to the named port in
// SPI mode 0 with 8 bits per word.
func Open(port string, speedHz int64, opts ...Option) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port %q: %w", port, err)
	}
	if speedHz <= 0 {
		speedHz = 1_000_000
	}
	c, err := p.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("could not connect to spi port %q: %w", port, err)
	}
	slog.Debug("spi port connected", "port", p.String(), "speed", speedHz)
	b := New(c, opts...)
	b.closer = p.Close
	return b, nil
}

// New wraps an established connection. The caller keeps ownership of the
// port the connection belongs to.
func New(c conn.Conn, opts ...Option) *Bus {
	b := &Bus{
		conn:  c,
		order: binary.BigEndian,
	}
	WithReadMask(DefaultReadMask)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) ReadUint8(ctx context.Context, address uint16) (byte, error) {
	data, err := b.transfer(address, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (b *Bus) ReadWord(ctx context.Context, address uint16) (uint16, error) {
	data, err := b.transfer(address, 2)
	if err != nil {
		return 0, err
	}
	return b.order.Uint16(data), nil
}

func (b *Bus) ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("spi: invalid buffer length %d", length)
	}
	return b.transfer(address, length)
}

func (b *Bus) transfer(address uint16, length int) ([]byte, error) {
	header, err := b.header(address)
	if err != nil {
		return nil, err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil, regpoll.ErrBusClosed
	}
	// dummy bytes clock out the data
	w := make([]byte, len(header)+length)
	copy(w, header)
	r := make([]byte, len(w))
	if err := b.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("spi: read %#x: %w", address, err)
	}
	return r[len(header):], nil
}

func (b *Bus) String() string {
	return b.conn.String()
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
