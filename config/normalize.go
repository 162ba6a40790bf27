package config

import "time"

const defaultModbusTimeout = time.Second

// Normalize applies defaults. It must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	b := &cfg.Bus
	if b.ByteOrder == "" {
		// gobot words come in SMBus order
		b.ByteOrder = ByteOrderBig
		if b.Kind == KindGobot {
			b.ByteOrder = ByteOrderLittle
		}
	}
	if b.Kind == KindModbus && b.Timeout == 0 {
		b.Timeout = defaultModbusTimeout
	}
	if b.Kind == KindModbus && b.Table == "" {
		b.Table = "holding"
	}
	if b.Kind == KindGPIO && b.Pull == "" {
		b.Pull = "none"
	}

	if cfg.Sinks.Console == nil {
		enabled := true
		cfg.Sinks.Console = &enabled
	}
	if m := cfg.Sinks.Modbus; m != nil && m.Timeout == 0 {
		m.Timeout = defaultModbusTimeout
	}
}
