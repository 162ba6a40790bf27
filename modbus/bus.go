package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"github.com/goburrow/modbus"

	"github.com/mklimuk/regpoll"
)

// Table selects the register space read by a Bus.
type Table int

const (
	Holding Table = iota
	Input
)

func ParseTable(s string) (Table, error) {
	switch s {
	case "", "holding":
		return Holding, nil
	case "input":
		return Input, nil
	}
	return Holding, fmt.Errorf("unknown register table %q", s)
}

type registerReader interface {
	ReadHoldingRegisters(addr, qty uint16) ([]byte, error)
	ReadInputRegisters(addr, qty uint16) ([]byte, error)
}

var _ regpoll.RegisterBus = &Bus{}

// Bus maps register reads onto 16-bit Modbus registers: a byte read is the
// low byte of a register, a word read is a register and a buffer read of n
// bytes reads ceil(n/2) registers.
type Bus struct {
	mx     sync.Mutex
	client registerReader
	table  Table
	closer io.Closer
	closed bool
}

// Open dials the endpoint. The returned bus owns the connection.
func Open(cfg Config, table Table) (*Bus, error) {
	c, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	b := NewBus(c, table)
	b.closer = c
	return b, nil
}

func NewBus(client registerReader, table Table) *Bus {
	return &Bus{client: client, table: table}
}

func (b *Bus) ReadUint8(ctx context.Context, address uint16) (byte, error) {
	data, err := b.read(address, 1)
	if err != nil {
		return 0, err
	}
	return data[1], nil
}

func (b *Bus) ReadWord(ctx context.Context, address uint16) (uint16, error) {
	data, err := b.read(address, 1)
	if err != nil {
		return 0, err
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

func (b *Bus) ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error) {
	if length <= 0 || length > 250 {
		return nil, fmt.Errorf("modbus: buffer length %d out of range", length)
	}
	data, err := b.read(address, uint16((length+1)/2))
	if err != nil {
		return nil, err
	}
	return data[:length], nil
}

func (b *Bus) read(address, qty uint16) ([]byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil, regpoll.ErrBusClosed
	}
	var data []byte
	var err error
	switch b.table {
	case Input:
		data, err = b.client.ReadInputRegisters(address, qty)
	default:
		data, err = b.client.ReadHoldingRegisters(address, qty)
	}
	if err != nil {
		return nil, classify(address, fmt.Errorf("modbus: read %d registers at %d: %w", qty, address, err))
	}
	if len(data) < int(qty)*2 {
		return nil, regpoll.Transient(address, fmt.Errorf("modbus: short response: %d bytes for %d registers", len(data), qty))
	}
	return data, nil
}

// classify tags the error. Exception responses and dropped connections are
// transient since the transport reconnects on the next request; a refused
// connection means the endpoint is gone.
func classify(address uint16, err error) error {
	var exc *modbus.ModbusError
	switch {
	case errors.As(err, &exc):
		return regpoll.Transient(address, err)
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		return regpoll.Fatal(err)
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return regpoll.Transient(address, err)
	}
	return err
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
	return b.closer.Close()
}
