package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/cmd/regpoll/console"
	"github.com/mklimuk/regpoll/config"
	"github.com/mklimuk/regpoll/poller"
	"github.com/mklimuk/regpoll/sink"
	"github.com/mklimuk/regpoll/snsctx"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "poller configuration file",
	Value:   "regpoll.yaml",
}

var pollCmd = cli.Command{
	Name:  "poll",
	Usage: "poll the configured registers until interrupted",
	Flags: []cli.Flag{
		configFlag,
		&cli.BoolFlag{Name: "once", Usage: "run a single cycle"},
		&cli.IntFlag{Name: "count", Usage: "number of cycles to run, 0 runs forever"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return console.Exit(1, "invalid configuration: %s", console.Red(err))
		}
		count := c.Int("count")
		if c.Bool("once") {
			count = 1
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = snsctx.SetVerbose(ctx, c.Bool("verbose"))

		bus, closer, err := openBus(cfg.Bus)
		if err != nil {
			return console.Exit(1, "could not open %s bus: %s", cfg.Bus.Kind, console.Red(err))
		}
		defer closer.Close()

		out, err := buildOutputs(cfg, console.Output())
		if err != nil {
			return console.Exit(1, "could not set up outputs: %s", console.Red(err))
		}
		defer out.Close()

		err = poll(ctx, bus, cfg, out.sink, count)
		if serr := summarize(ctx, console.Output(), out); serr != nil {
			console.Warnf("could not collect metrics: %v", serr)
		}
		if err != nil {
			return console.Exit(2, "%s polling stopped: %s", console.PictoStop, console.Red(err))
		}
		console.PInfof(console.PictoFinish, "polling finished")
		return nil
	},
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read every configured register once and print the samples as yaml",
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
		if err := readOnce(ctx, bus, cfg, console.Output()); err != nil {
			return console.Exit(2, "read failed: %s", console.Red(err))
		}
		return nil
	},
}

// poll runs the loop for count cycles, or until ctx is done when count is 0.
// It returns as soon as the last counted cycle has been reported.
func poll(ctx context.Context, bus regpoll.RegisterBus, cfg *config.Config, out poller.Sink, count int) error {
	s, err := cfg.Schedule()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cycles := 0
	opts := append(cfg.PollerOptions(), poller.WithCycleDone(func() {
		cycles++
		if count > 0 && cycles >= count {
			cancel()
		}
	}))
	shouldStop := func() bool {
		return count > 0 && cycles >= count
	}
	return poller.New(bus, opts...).RunLoop(ctx, s, out, shouldStop)
}

func readOnce(ctx context.Context, bus regpoll.RegisterBus, cfg *config.Config, w io.Writer) error {
	s, err := cfg.Schedule()
	if err != nil {
		return err
	}
	decoders, err := cfg.Decoders()
	if err != nil {
		return err
	}
	opts := append(cfg.PollerOptions(), poller.WithFaultHandler(func(reg poller.Register, err error) {
		console.Warnf("%s skipped: %v", sink.RegisterKey(reg), err)
	}))
	samples, err := poller.New(bus, opts...).RunOnce(ctx, s)
	y := sink.NewYAML(w, decoders)
	for _, sample := range samples {
		y.Report(sample)
	}
	if cerr := y.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// summarize prints the metrics collected during the run. It still collects
// after ctx was cancelled by a signal.
func summarize(ctx context.Context, w io.Writer, out *outputs) error {
	if out.metrics == nil {
		return nil
	}
	return printMetrics(context.WithoutCancel(ctx), w, out.metrics)
}

func printMetrics(ctx context.Context, w io.Writer, reader *sdkmetric.ManualReader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 16, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(tw, "METRIC\tATTRIBUTES\tVALUE\n")
	enc := attribute.DefaultEncoder()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", m.Name, dp.Attributes.Encoded(enc), dp.Value)
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%g\n", m.Name, dp.Attributes.Encoded(enc), dp.Value)
				}
			}
		}
	}
	return tw.Flush()
}
