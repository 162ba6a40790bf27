package config

import (
	"encoding/binary"

	"github.com/mklimuk/regpoll/decode"
	"github.com/mklimuk/regpoll/poller"
	"github.com/mklimuk/regpoll/sink"
)

// PollRegisters converts the register list in file order.
func (c *Config) PollRegisters() ([]poller.Register, error) {
	regs := make([]poller.Register, 0, len(c.Registers))
	for _, r := range c.Registers {
		w, err := poller.ParseWidth(r.Width)
		if err != nil {
			return nil, err
		}
		regs = append(regs, poller.Register{
			Name:    r.Name,
			Address: r.Address,
			Width:   w,
			Length:  r.Length,
		})
	}
	return regs, nil
}

func (c *Config) Schedule() (*poller.Schedule, error) {
	regs, err := c.PollRegisters()
	if err != nil {
		return nil, err
	}
	return poller.Configure(regs, c.Poll.Interval)
}

// Decoders returns the decoders of registers that name one.
func (c *Config) Decoders() (sink.Decoders, error) {
	decoders := make(sink.Decoders)
	for _, r := range c.Registers {
		if r.Decode == "" {
			continue
		}
		d, err := decode.Lookup(r.Decode)
		if err != nil {
			return nil, err
		}
		decoders[sink.Key(poller.Sample{Name: r.Name, Address: r.Address})] = d
	}
	return decoders, nil
}

func (c *Config) PollerOptions() []poller.Option {
	var opts []poller.Option
	if c.Poll.Retry.Attempts > 0 {
		opts = append(opts, poller.WithRetry(c.Poll.Retry.Attempts, c.Poll.Retry.Backoff))
	}
	return opts
}

func (b BusConfig) Order() binary.ByteOrder {
	if b.ByteOrder == ByteOrderLittle {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
