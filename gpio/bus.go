// Package gpio exposes character device GPIO lines as registers: the
// register address is the line offset and its value is the line level.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/mklimuk/regpoll"
)

var _ regpoll.RegisterBus = &Bus{}

// Pull is the bias applied to requested input lines.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func ParsePull(s string) (Pull, error) {
	switch s {
	case "", "none":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	}
	return PullNone, fmt.Errorf("unknown pull %q", s)
}

type line interface {
	Value() (int, error)
	Close() error
}

// Bus requests lines lazily as inputs and keeps them until closed.
type Bus struct {
	mx      sync.Mutex
	chip    string
	request func(offset int) (line, error)
	lines   map[int]line
	closed  bool
}

func newBus(chip string, request func(offset int) (line, error)) *Bus {
	return &Bus{
		chip:    chip,
		request: request,
		lines:   make(map[int]line),
	}
}

// ReadUint8 returns the level (0 or 1) of the line at offset address.
func (b *Bus) ReadUint8(ctx context.Context, address uint16) (byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	v, err := b.value(int(address))
	return byte(v), err
}

// ReadWord returns the level of a single line, like ReadUint8.
func (b *Bus) ReadWord(ctx context.Context, address uint16) (uint16, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	v, err := b.value(int(address))
	return uint16(v), err
}

// ReadBuffer returns the levels of length consecutive lines starting at
// address, one byte per line.
func (b *Bus) ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	out := make([]byte, length)
	for i := range out {
		v, err := b.value(int(address) + i)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

func (b *Bus) value(offset int) (int, error) {
	if b.closed {
		return 0, regpoll.ErrBusClosed
	}
	l, ok := b.lines[offset]
	if !ok {
		var err error
		l, err = b.request(offset)
		if err != nil {
			return 0, classify(fmt.Errorf("gpio: request %s:%d: %w", b.chip, offset, err))
		}
		b.lines[offset] = l
	}
	v, err := l.Value()
	if err != nil {
		return 0, classify(fmt.Errorf("gpio: read %s:%d: %w", b.chip, offset, err))
	}
	return v, nil
}

// classify marks a vanished chip as fatal.
func classify(err error) error {
	if errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.ENOENT) {
		return regpoll.Fatal(err)
	}
	return err
}

// Close releases every requested line.
func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for offset, l := range b.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gpio: close %s:%d: %w", b.chip, offset, err))
		}
	}
	b.lines = nil
	return errors.Join(errs...)
}
