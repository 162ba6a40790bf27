package i2c

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/regpoll"
)

var _ regpoll.RegisterBus = &Device{}

// transactor is implemented by buses able to write the register pointer and
// read the value within a single transaction.
type transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

// Device exposes the registers of a single I2C device. A register read
// writes the register pointer and then reads 1, 2 or N bytes.
type Device struct {
	bus         regpoll.I2CBus
	address     byte
	order       binary.ByteOrder
	widePointer bool
}

type DeviceOption func(*Device)

// WithByteOrder sets the order of the two bytes of a word read. Big endian
// is used by default.
func WithByteOrder(order binary.ByteOrder) DeviceOption {
	return func(d *Device) {
		d.order = order
	}
}

// WithWidePointer makes the device use a two byte (big endian) register
// pointer, as found in larger EEPROMs.
func WithWidePointer() DeviceOption {
	return func(d *Device) {
		d.widePointer = true
	}
}

func NewDevice(bus regpoll.I2CBus, address byte, opts ...DeviceOption) *Device {
	d := &Device{
		bus:     bus,
		address: address,
		order:   binary.BigEndian,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) ReadUint8(ctx context.Context, register uint16) (byte, error) {
	buf := make([]byte, 1)
	if err := d.read(ctx, register, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Device) ReadWord(ctx context.Context, register uint16) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.read(ctx, register, buf); err != nil {
		return 0, err
	}
	return d.order.Uint16(buf), nil
}

func (d *Device) ReadBuffer(ctx context.Context, register uint16, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid buffer length %d", length)
	}
	buf := make([]byte, length)
	if err := d.read(ctx, register, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Device) pointer(register uint16) ([]byte, error) {
	if d.widePointer {
		return binary.BigEndian.AppendUint16(nil, register), nil
	}
	if register > 0xFF {
		return nil, fmt.Errorf("register %#x does not fit an 8-bit pointer", register)
	}
	return []byte{byte(register)}, nil
}

func (d *Device) read(ctx context.Context, register uint16, buf []byte) error {
	ptr, err := d.pointer(register)
	if err != nil {
		return err
	}
	if tx, ok := d.bus.(transactor); ok {
		err = tx.Tx(ctx, d.address, ptr, buf)
		if err != nil {
			return fmt.Errorf("could not read register %#x of %#x: %w", register, d.address, err)
		}
		return nil
	}
	err = d.bus.WriteToAddr(ctx, d.address, ptr)
	if err != nil {
		return fmt.Errorf("could not write register pointer %#x to %#x: %w", register, d.address, err)
	}
	err = d.bus.ReadFromAddr(ctx, d.address, buf)
	if err != nil {
		return fmt.Errorf("could not read register %#x of %#x: %w", register, d.address, err)
	}
	return nil
}
