package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/cmd/regpoll/console"
	"github.com/mklimuk/regpoll/config"
	"github.com/mklimuk/regpoll/poller"
	"github.com/mklimuk/regpoll/snsctx"
)

const probeHelp = `usage: <address> [8|16|buffer <length>]
  0x10          read one byte
  0x10 16       read a word
  0x10 buffer 6 read 6 bytes
  exit          leave the shell
`

var probeCmd = cli.Command{
	Name:  "probe",
	Usage: "read registers of the configured bus interactively",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return console.Exit(1, "invalid configuration: %s", console.Red(err))
		}
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		bus, closer, err := openBus(cfg.Bus)
		if err != nil {
			return console.Exit(1, "could not open %s bus: %s", cfg.Bus.Kind, console.Red(err))
		}
		defer closer.Close()

		history := ""
		if home, err := os.UserHomeDir(); err == nil {
			history = filepath.Join(home, ".regpoll_history")
		}
		rl, err := console.NewShell(console.Cyan("regpoll> "), history, "buffer", "help", "exit")
		if err != nil {
			return console.Exit(1, "could not start shell: %s", console.Red(err))
		}
		defer rl.Close()

		opts := cfg.PollerOptions()
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			case "help":
				console.Printf(probeHelp)
				continue
			}
			reg, err := parseProbe(line)
			if err != nil {
				console.Errorf("%v", err)
				continue
			}
			sample, err := probe(ctx, bus, opts, reg)
			if err != nil {
				if regpoll.Classify(err) == regpoll.FaultFatal {
					return console.Exit(2, "%s bus failed: %s", console.PictoStop, console.Red(err))
				}
				console.Warnf("%v", err)
				continue
			}
			console.PInfof(console.PictoPin, "%s", console.White(sample))
		}
	},
}

// parseProbe parses "<address> [8|16|buffer <length>]".
func parseProbe(line string) (poller.Register, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return poller.Register{}, fmt.Errorf("missing register address")
	}
	addr, err := strconv.ParseUint(fields[0], 0, 16)
	if err != nil {
		return poller.Register{}, fmt.Errorf("invalid register address %q", fields[0])
	}
	reg := poller.Register{Address: uint16(addr), Width: poller.Width8}
	if len(fields) > 1 {
		reg.Width, err = poller.ParseWidth(fields[1])
		if err != nil {
			return poller.Register{}, err
		}
	}
	switch {
	case reg.Width == poller.WidthBuffer && len(fields) != 3:
		return poller.Register{}, fmt.Errorf("buffer reads need a length")
	case reg.Width == poller.WidthBuffer:
		reg.Length, err = strconv.Atoi(fields[2])
		if err != nil {
			return poller.Register{}, fmt.Errorf("invalid length %q", fields[2])
		}
	case len(fields) > 2:
		return poller.Register{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fields[2:], " "))
	}
	return reg, nil
}

// probe reads a single register. A transient fault is returned as error.
func probe(ctx context.Context, bus regpoll.RegisterBus, opts []poller.Option, reg poller.Register) (poller.Sample, error) {
	s, err := poller.Configure([]poller.Register{reg}, 0)
	if err != nil {
		return poller.Sample{}, err
	}
	var fault error
	opts = append(opts[:len(opts):len(opts)], poller.WithFaultHandler(func(_ poller.Register, err error) {
		fault = err
	}))
	samples, err := poller.New(bus, opts...).RunOnce(ctx, s)
	if err != nil {
		return poller.Sample{}, err
	}
	if len(samples) == 0 {
		return poller.Sample{}, fault
	}
	return samples[0], nil
}
