package decode

import (
	"encoding/binary"
	"errors"

	"github.com/mklimuk/regpoll/poller"
)

var hihDivider = float32(1<<14 - 2)

var ErrStaleData = errors.New("stale data")
var ErrCommandMode = errors.New("device in command mode")

// HIH6021Humidity decodes relative humidity from the first two bytes of a
// Honeywell HumidIcon measurement. A word register holds the same two bytes.
func HIH6021Humidity(s poller.Sample) (Value, error) {
	data, err := hihBytes(s)
	if err != nil {
		return Value{}, err
	}
	return Value{Number: float64(convertHumidity(data[0:2])), Unit: "%"}, nil
}

// HIH6021Temperature decodes the temperature from bytes 3 and 4 of a full
// measurement buffer or from a word register holding them.
func HIH6021Temperature(s poller.Sample) (Value, error) {
	if s.Numeric() {
		return Value{Number: float64(convertTemperature(word(s.Value))), Unit: "°C"}, nil
	}
	data, err := hihBytes(s)
	if err != nil {
		return Value{}, err
	}
	if len(data) < 4 {
		return Value{}, errors.New("decode: hih6021 temperature needs 4 bytes")
	}
	return Value{Number: float64(convertTemperature(data[2:4])), Unit: "°C"}, nil
}

func hihBytes(s poller.Sample) ([]byte, error) {
	if s.Numeric() {
		return word(s.Value), nil
	}
	if len(s.Raw) < 2 {
		return nil, errors.New("decode: hih6021 needs at least 2 bytes")
	}
	if s.Raw[0]&0x80 > 0 {
		return nil, ErrCommandMode
	}
	// data already fetched since the last measurement
	if s.Raw[0]&0x40 > 0 {
		return nil, ErrStaleData
	}
	return s.Raw, nil
}

func word(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func convertHumidity(resp []byte) float32 {
	hum := float32(binary.BigEndian.Uint16(resp)&0x3FFF) / hihDivider * 100
	if hum > 100.00 {
		return 100.00
	}
	return hum
}

func convertTemperature(resp []byte) float32 {
	shift := resp[0] & 0x03
	shift <<= 6
	lsb := (resp[1] >> 2) | shift
	msb := resp[0] >> 2
	return float32(binary.BigEndian.Uint16([]byte{msb, lsb}))/hihDivider*165 - 40
}
