package poller

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mklimuk/regpoll"
)

// Width is the size of a single register read.
type Width int

const (
	Width8 Width = iota + 1
	Width16
	WidthBuffer
)

func (w Width) String() string {
	switch w {
	case Width8:
		return "8"
	case Width16:
		return "16"
	case WidthBuffer:
		return "buffer"
	default:
		return "width(" + strconv.Itoa(int(w)) + ")"
	}
}

// ParseWidth accepts "8", "16" and "buffer".
func ParseWidth(s string) (Width, error) {
	switch s {
	case "8", "byte":
		return Width8, nil
	case "16", "word":
		return Width16, nil
	case "buffer", "buf":
		return WidthBuffer, nil
	}
	return 0, fmt.Errorf("unknown register width %q", s)
}

// Register describes one addressable value to poll.
type Register struct {
	Name    string
	Address uint16
	Width   Width
	// Length is the number of bytes of a buffer read. Ignored otherwise.
	Length int
}

func (r Register) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s(%#x)", r.Name, r.Address)
	}
	return fmt.Sprintf("%#x", r.Address)
}

func (r Register) validate(i int) error {
	field := fmt.Sprintf("registers[%d]", i)
	switch r.Width {
	case Width8, Width16:
		return nil
	case WidthBuffer:
		if r.Length <= 0 {
			return regpoll.Configf(field+".length", "buffer register %s needs a positive length, got %d", r, r.Length)
		}
		return nil
	}
	return regpoll.Configf(field+".width", "register %s has unsupported width %s", r, r.Width)
}

// Sample is a single observation of a register. Samples are never mutated
// after creation; Raw is a private copy.
type Sample struct {
	Name    string
	Address uint16
	Width   Width
	// Value holds 8- and 16-bit reads.
	Value uint16
	// Raw holds buffer reads.
	Raw []byte
	At  time.Time
}

// Numeric reports whether the sample carries an integer value.
func (s Sample) Numeric() bool {
	return s.Width != WidthBuffer
}

// Equal compares the observed value, ignoring the timestamp.
func (s Sample) Equal(o Sample) bool {
	if s.Address != o.Address || s.Width != o.Width || s.Value != o.Value || len(s.Raw) != len(o.Raw) {
		return false
	}
	for i := range s.Raw {
		if s.Raw[i] != o.Raw[i] {
			return false
		}
	}
	return true
}

func (s Sample) String() string {
	if s.Numeric() {
		return fmt.Sprintf("%s=%d", s.register(), s.Value)
	}
	return fmt.Sprintf("%s=% x", s.register(), s.Raw)
}

func (s Sample) register() Register {
	return Register{Name: s.Name, Address: s.Address}
}
