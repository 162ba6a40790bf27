//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: character device lines are only available on linux")

func Open(chip string, pull Pull) (*Bus, error) {
	return nil, errUnsupported
}

func Chips() []string {
	return nil
}
