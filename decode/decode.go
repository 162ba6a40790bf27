// Package decode turns raw register samples into physical values. Polling
// never decodes; sinks do.
package decode

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/poller"
)

// Value is a decoded sample.
type Value struct {
	Number float64
	Text   string
	Unit   string
}

func (v Value) String() string {
	if v.Text != "" {
		return v.Text
	}
	if v.Unit == "" {
		return fmt.Sprintf("%g", v.Number)
	}
	return fmt.Sprintf("%.2f%s", v.Number, v.Unit)
}

type Decoder func(poller.Sample) (Value, error)

var decoders = map[string]Decoder{
	"uint":                Uint,
	"int8":                Int8,
	"int16":               Int16,
	"hih6021-humidity":    HIH6021Humidity,
	"hih6021-temperature": HIH6021Temperature,
	"ascii":               ASCII,
}

// Lookup returns the named decoder. An empty name decodes as uint.
func Lookup(name string) (Decoder, error) {
	if name == "" {
		return Uint, nil
	}
	d, ok := decoders[name]
	if !ok {
		return nil, regpoll.Configf("decode", "unknown decoder %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

func Names() []string {
	names := make([]string, 0, len(decoders))
	for n := range decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func numeric(s poller.Sample) error {
	if !s.Numeric() {
		return fmt.Errorf("decode: %s is a buffer register", s.Name)
	}
	return nil
}

// Uint returns the raw value; buffers are read as a big endian integer of
// up to 8 bytes.
func Uint(s poller.Sample) (Value, error) {
	if s.Numeric() {
		return Value{Number: float64(s.Value)}, nil
	}
	if len(s.Raw) > 8 {
		return Value{}, fmt.Errorf("decode: %d bytes do not fit an integer", len(s.Raw))
	}
	buf := make([]byte, 8)
	copy(buf[8-len(s.Raw):], s.Raw)
	return Value{Number: float64(binary.BigEndian.Uint64(buf))}, nil
}

// Int8 reads the low byte as two's complement, as TC74 temperature
// registers are encoded (degrees Celsius).
func Int8(s poller.Sample) (Value, error) {
	if err := numeric(s); err != nil {
		return Value{}, err
	}
	return Value{Number: float64(int8(s.Value)), Unit: "°C"}, nil
}

func Int16(s poller.Sample) (Value, error) {
	if err := numeric(s); err != nil {
		return Value{}, err
	}
	return Value{Number: float64(int16(s.Value))}, nil
}

// ASCII returns the printable part of a buffer register.
func ASCII(s poller.Sample) (Value, error) {
	if s.Numeric() {
		return Value{}, fmt.Errorf("decode: %s is not a buffer register", s.Name)
	}
	text := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return -1
		}
		return r
	}, string(s.Raw))
	return Value{Text: text}, nil
}
