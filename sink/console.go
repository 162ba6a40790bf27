package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/mklimuk/regpoll/poller"
)

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	white  = color.New(color.FgHiWhite).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Console prints one coloured line per sample.
type Console struct {
	w        io.Writer
	decoders Decoders
}

func NewConsole(w io.Writer, decoders Decoders) *Console {
	return &Console{w: w, decoders: decoders}
}

func (c *Console) Report(s poller.Sample) {
	value := fmt.Sprintf("% x", s.Raw)
	if s.Numeric() {
		value = fmt.Sprintf("%d (%#x)", s.Value, s.Value)
	}
	v, ok, err := c.decoders.Decode(s)
	switch {
	case err != nil:
		value += " " + yellow(err)
	case ok:
		value = green(v) + " " + value
	}
	_, _ = fmt.Fprintf(c.w, "%s %s %s\n", s.At.Format(time.TimeOnly), bold(Key(s)), white(value))
}

func (c *Console) ReportFault(reg poller.Register, err error) {
	_, _ = fmt.Fprintf(c.w, "%s: %s %v\n", yellow("WARN"), bold(RegisterKey(reg)), err)
}
