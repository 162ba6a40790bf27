package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/regpoll/cmd/regpoll/console"
	"github.com/mklimuk/regpoll/gpio"
)

var busCmd = cli.Command{
	Name:  "bus",
	Usage: "inspect buses available on this host",
	Subcommands: cli.Commands{
		&busLsCmd,
	},
}

var busLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list i2c and spi ports, gpio chips and loaded host drivers",
	Action: func(c *cli.Context) error {
		state, err := host.Init()
		if err != nil {
			return console.Exit(1, "could not initialize host drivers: %s", console.Red(err))
		}
		for _, d := range state.Failed {
			slog.Debug("host driver failed", "driver", d.D.String(), "err", d.Err)
		}

		w := tabwriter.NewWriter(os.Stdout, 16, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "KIND\tNAME\tNUMBER\tALIASES\n")
		for _, ref := range i2creg.All() {
			_, _ = fmt.Fprintf(w, "i2c\t%s\t%d\t%s\n", ref.Name, ref.Number, strings.Join(ref.Aliases, ","))
		}
		for _, ref := range spireg.All() {
			_, _ = fmt.Fprintf(w, "spi\t%s\t%d\t%s\n", ref.Name, ref.Number, strings.Join(ref.Aliases, ","))
		}
		for _, chip := range gpio.Chips() {
			_, _ = fmt.Fprintf(w, "gpio\t%s\t-\t\n", chip)
		}
		for _, d := range state.Loaded {
			_, _ = fmt.Fprintf(w, "driver\t%s\t-\t\n", d)
		}
		_ = w.Flush()
		return nil
	},
}
