package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/adapter"
	"github.com/mklimuk/regpoll/config"
	"github.com/mklimuk/regpoll/gobot"
	"github.com/mklimuk/regpoll/gpio"
	"github.com/mklimuk/regpoll/i2c"
	"github.com/mklimuk/regpoll/modbus"
	"github.com/mklimuk/regpoll/poller"
	"github.com/mklimuk/regpoll/sink"
	"github.com/mklimuk/regpoll/spi"
)

// openBus opens the configured bus. The returned closer releases it.
func openBus(b config.BusConfig) (regpoll.RegisterBus, io.Closer, error) {
	switch b.Kind {
	case config.KindI2C:
		bus, err := i2c.NewGenericBus(b.Device, i2c.WithSpeed(b.SpeedHz))
		if err != nil {
			return nil, nil, err
		}
		return i2c.NewDevice(bus, byte(b.Address), deviceOptions(b)...), bus, nil
	case config.KindMCP2221:
		var opts []adapter.Option
		if b.DeviceIndex != nil {
			opts = append(opts, adapter.WithDeviceIndex(*b.DeviceIndex))
		}
		bridge := adapter.NewMCP2221(opts...)
		return i2c.NewDevice(bridge, byte(b.Address), deviceOptions(b)...), bridge, nil
	case config.KindGobot:
		var opts []gobot.Option
		if b.ByteOrder == config.ByteOrderBig {
			opts = append(opts, gobot.SwapBytes())
		}
		bus, err := gobot.NewRaspi(b.BusNumber, int(b.Address), opts...)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	case config.KindSPI:
		opts := []spi.Option{spi.WithByteOrder(b.Order())}
		if b.ReadMask != nil {
			opts = append(opts, spi.WithReadMask(*b.ReadMask))
		}
		if b.ReadCommand != nil {
			opts = append(opts, spi.WithReadCommand(*b.ReadCommand, b.AddressSize))
		}
		bus, err := spi.Open(b.Device, b.SpeedHz, opts...)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	case config.KindGPIO:
		pull, err := gpio.ParsePull(b.Pull)
		if err != nil {
			return nil, nil, err
		}
		bus, err := gpio.Open(b.Device, pull)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	case config.KindModbus:
		table, err := modbus.ParseTable(b.Table)
		if err != nil {
			return nil, nil, err
		}
		bus, err := modbus.Open(modbus.Config{
			Endpoint: b.Device,
			UnitID:   uint8(b.Address),
			Timeout:  b.Timeout,
			BaudRate: b.BaudRate,
		}, table)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	}
	return nil, nil, regpoll.Configf("bus.kind", "unknown bus kind %q", b.Kind)
}

func deviceOptions(b config.BusConfig) []i2c.DeviceOption {
	opts := []i2c.DeviceOption{i2c.WithByteOrder(b.Order())}
	if b.WidePointer {
		opts = append(opts, i2c.WithWidePointer())
	}
	return opts
}

// outputs is the sink chain of a poll run together with what has to be
// released once polling ends.
type outputs struct {
	sink    poller.Sink
	metrics *sdkmetric.ManualReader
	closers []io.Closer
}

func (o *outputs) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func buildOutputs(cfg *config.Config, stdout io.Writer) (*outputs, error) {
	decoders, err := cfg.Decoders()
	if err != nil {
		return nil, err
	}
	out := &outputs{}
	var sinks sink.Multi
	if cfg.Sinks.Console != nil && *cfg.Sinks.Console {
		sinks = append(sinks, sink.NewConsole(stdout, decoders))
	}
	if cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLog(slog.Default(), decoders))
	}
	if path := cfg.Sinks.YAML; path != "" {
		w := stdout
		if path != "-" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				_ = out.Close()
				return nil, fmt.Errorf("could not open yaml output: %w", err)
			}
			out.closers = append(out.closers, f)
			w = f
		}
		y := sink.NewYAML(w, decoders)
		out.closers = append(out.closers, y)
		sinks = append(sinks, y)
	}
	if cfg.Sinks.Metrics {
		out.metrics = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(out.metrics))
		out.closers = append(out.closers, closerFunc(func() error {
			return provider.Shutdown(context.Background())
		}))
		m, err := sink.NewMetrics(provider, decoders)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		sinks = append(sinks, m)
	}
	if m := cfg.Sinks.Modbus; m != nil {
		client, err := modbus.Dial(modbus.Config{Endpoint: m.Endpoint, UnitID: m.UnitID, Timeout: m.Timeout})
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("could not connect modbus mirror: %w", err)
		}
		out.closers = append(out.closers, client)
		sinks = append(sinks, sink.NewModbus(modbus.NewWriter(client), m.Offset))
	}
	out.sink = sinks
	if cfg.Sinks.ChangesOnly {
		out.sink = sink.NewChangesOnly(sinks)
	}
	return out, nil
}
