package config

import (
	"fmt"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/decode"
	"github.com/mklimuk/regpoll/gpio"
	"github.com/mklimuk/regpoll/modbus"
	"github.com/mklimuk/regpoll/poller"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
// Every error is a *regpoll.ConfigError naming the offending field.
func Validate(cfg *Config) error {
	if err := validateBus(cfg.Bus); err != nil {
		return err
	}

	if cfg.Poll.Interval < 0 {
		return regpoll.Configf("poll.interval", "must not be negative, got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.Retry.Attempts < 0 {
		return regpoll.Configf("poll.retry.attempts", "must not be negative, got %d", cfg.Poll.Retry.Attempts)
	}
	if cfg.Poll.Retry.Backoff < 0 {
		return regpoll.Configf("poll.retry.backoff", "must not be negative, got %s", cfg.Poll.Retry.Backoff)
	}

	if len(cfg.Registers) == 0 {
		return regpoll.Configf("registers", "at least one register required")
	}
	names := make(map[string]int)
	for i, r := range cfg.Registers {
		field := fmt.Sprintf("registers[%d]", i)
		w, err := poller.ParseWidth(r.Width)
		if err != nil {
			return regpoll.Configf(field+".width", "%v", err)
		}
		if w == poller.WidthBuffer && r.Length <= 0 {
			return regpoll.Configf(field+".length", "buffer register needs a positive length, got %d", r.Length)
		}
		if w != poller.WidthBuffer && r.Length != 0 {
			return regpoll.Configf(field+".length", "only buffer registers have a length")
		}
		if _, err := decode.Lookup(r.Decode); err != nil {
			return regpoll.Configf(field+".decode", "unknown decoder %q, expected one of %v", r.Decode, decode.Names())
		}
		if r.Name == "" {
			continue
		}
		// sinks key samples by name
		if prev, ok := names[r.Name]; ok {
			return regpoll.Configf(field+".name", "duplicate name %q, already used by registers[%d]", r.Name, prev)
		}
		names[r.Name] = i
	}

	if m := cfg.Sinks.Modbus; m != nil {
		if m.Endpoint == "" {
			return regpoll.Configf("sinks.modbus.endpoint", "required")
		}
		if m.Timeout < 0 {
			return regpoll.Configf("sinks.modbus.timeout", "must not be negative, got %s", m.Timeout)
		}
		for i, r := range cfg.Registers {
			span := 1
			if r.Length > 0 {
				span = (r.Length + 1) / 2
			}
			if last := int(m.Offset) + int(r.Address) + span - 1; last > 0xFFFF {
				return regpoll.Configf("sinks.modbus.offset", "registers[%d] would be mirrored past register 0xffff (%#x)", i, last)
			}
		}
	}
	return nil
}

func validateBus(b BusConfig) error {
	switch b.Kind {
	case KindI2C, KindMCP2221, KindGobot:
		if b.Address > 0x7F {
			return regpoll.Configf("bus.address", "%#x is not a 7-bit i2c address", b.Address)
		}
	case KindSPI:
		if b.ReadCommand != nil && (b.AddressSize < 1 || b.AddressSize > 3) {
			return regpoll.Configf("bus.address_size", "read_command needs an address size of 1 to 3 bytes, got %d", b.AddressSize)
		}
		if b.ReadCommand != nil && b.ReadMask != nil {
			return regpoll.Configf("bus.read_mask", "read_mask and read_command are exclusive")
		}
	case KindGPIO:
		if b.Device == "" {
			return regpoll.Configf("bus.device", "gpio chip required")
		}
		if _, err := gpio.ParsePull(b.Pull); err != nil {
			return regpoll.Configf("bus.pull", "%v", err)
		}
	case KindModbus:
		if b.Device == "" {
			return regpoll.Configf("bus.device", "modbus endpoint required")
		}
		if b.Address > 0xFF {
			return regpoll.Configf("bus.address", "unit id %d out of range", b.Address)
		}
		if _, err := modbus.ParseTable(b.Table); err != nil {
			return regpoll.Configf("bus.table", "%v", err)
		}
		if b.Timeout < 0 {
			return regpoll.Configf("bus.timeout", "must not be negative, got %s", b.Timeout)
		}
	case "":
		return regpoll.Configf("bus.kind", "required")
	default:
		return regpoll.Configf("bus.kind", "unknown bus kind %q", b.Kind)
	}
	switch b.ByteOrder {
	case "", ByteOrderBig, ByteOrderLittle:
	default:
		return regpoll.Configf("bus.byte_order", "expected %q or %q, got %q", ByteOrderBig, ByteOrderLittle, b.ByteOrder)
	}
	if b.SpeedHz < 0 {
		return regpoll.Configf("bus.speed_hz", "must not be negative, got %d", b.SpeedHz)
	}
	return nil
}
