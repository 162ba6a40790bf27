//go:build linux

package gpio

import (
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "regpoll"

// Open prepares lines of chip (e.g. "gpiochip0") for reading. Lines are
// requested as inputs with the given bias on first read.
func Open(chip string, pull Pull) (*Bus, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer(consumer)}
	switch pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	// the chip handle is only used to fail early on a missing device
	if err := c.Close(); err != nil {
		return nil, err
	}
	return newBus(chip, func(offset int) (line, error) {
		return gpiocdev.RequestLine(chip, offset, opts...)
	}), nil
}

// Chips lists the GPIO character devices of the host.
func Chips() []string {
	return gpiocdev.Chips()
}
