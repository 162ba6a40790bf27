package sink

import (
	"log/slog"

	"github.com/mklimuk/regpoll/poller"
)

// RegisterWriter writes a block of 16-bit registers.
type RegisterWriter interface {
	WriteRegisters(addr uint16, regs []uint16) error
}

// Modbus mirrors samples into holding registers of a Modbus target at
// offset + register address. Buffers are packed two bytes per register,
// the last one zero padded.
type Modbus struct {
	w      RegisterWriter
	offset uint16
}

func NewModbus(w RegisterWriter, offset uint16) *Modbus {
	return &Modbus{w: w, offset: offset}
}

func (m *Modbus) Report(s poller.Sample) {
	regs := []uint16{s.Value}
	if !s.Numeric() {
		regs = make([]uint16, (len(s.Raw)+1)/2)
		for i, b := range s.Raw {
			if i%2 == 0 {
				regs[i/2] = uint16(b) << 8
			} else {
				regs[i/2] |= uint16(b)
			}
		}
	}
	last := int(m.offset) + int(s.Address) + len(regs) - 1
	if last > 0xFFFF {
		slog.Warn("sample not mirrored, target register out of range", "register", Key(s), "last", last)
		return
	}
	addr := m.offset + s.Address
	if err := m.w.WriteRegisters(addr, regs); err != nil {
		slog.Error("could not mirror sample", "register", Key(s), "target", addr, "err", err)
	}
}
