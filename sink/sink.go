// Package sink provides poller.Sink implementations. Sinks never fail the
// poll loop; write errors are logged.
package sink

import (
	"fmt"

	"github.com/mklimuk/regpoll/decode"
	"github.com/mklimuk/regpoll/poller"
)

// Key identifies the register a sample came from.
func Key(s poller.Sample) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%#x", s.Address)
}

// RegisterKey is Key for a register.
func RegisterKey(r poller.Register) string {
	return Key(poller.Sample{Name: r.Name, Address: r.Address})
}

// Decoders maps register keys to decoders. Registers without an entry are
// rendered raw.
type Decoders map[string]decode.Decoder

func (d Decoders) Decode(s poller.Sample) (decode.Value, bool, error) {
	dec, ok := d[Key(s)]
	if !ok {
		return decode.Value{}, false, nil
	}
	v, err := dec(s)
	return v, true, err
}

// Multi fans samples and faults out to every sink.
type Multi []poller.Sink

func (m Multi) Report(s poller.Sample) {
	for _, sink := range m {
		sink.Report(s)
	}
}

func (m Multi) ReportFault(reg poller.Register, err error) {
	for _, sink := range m {
		if r, ok := sink.(poller.FaultReporter); ok {
			r.ReportFault(reg, err)
		}
	}
}

// ChangesOnly forwards a sample only when it differs from the previous one
// of the same register. The first sample of every register is forwarded.
type ChangesOnly struct {
	next poller.Sink
	last map[string]poller.Sample
}

func NewChangesOnly(next poller.Sink) *ChangesOnly {
	return &ChangesOnly{
		next: next,
		last: make(map[string]poller.Sample),
	}
}

func (c *ChangesOnly) Report(s poller.Sample) {
	k := Key(s)
	if prev, ok := c.last[k]; ok && prev.Equal(s) {
		return
	}
	c.last[k] = s
	c.next.Report(s)
}

func (c *ChangesOnly) ReportFault(reg poller.Register, err error) {
	if r, ok := c.next.(poller.FaultReporter); ok {
		r.ReportFault(reg, err)
	}
}
