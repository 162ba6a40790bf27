package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/regpoll"
)

// Schedule is an immutable poll plan: the interval between cycles and the
// ordered registers read on every cycle. The schedule owns its registers
// and remembers the last value observed for each of them.
type Schedule struct {
	interval time.Duration
	entries  []*entry
}

type entry struct {
	reg  Register
	last *Sample
}

// Configure builds a schedule. Register order is kept as given; duplicate
// addresses are polled once per occurrence.
func Configure(registers []Register, interval time.Duration) (*Schedule, error) {
	if len(registers) == 0 {
		return nil, regpoll.Configf("registers", "at least one register required")
	}
	if interval < 0 {
		return nil, regpoll.Configf("interval", "must not be negative, got %s", interval)
	}
	s := &Schedule{
		interval: interval,
		entries:  make([]*entry, 0, len(registers)),
	}
	for i, r := range registers {
		if err := r.validate(i); err != nil {
			return nil, err
		}
		s.entries = append(s.entries, &entry{reg: r})
	}
	return s, nil
}

func (s *Schedule) Interval() time.Duration {
	return s.interval
}

// Registers returns a copy of the registers in poll order.
func (s *Schedule) Registers() []Register {
	out := make([]Register, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.reg
	}
	return out
}

// LastValue returns the last sample read for the i-th register.
func (s *Schedule) LastValue(i int) (Sample, bool) {
	if i < 0 || i >= len(s.entries) || s.entries[i].last == nil {
		return Sample{}, false
	}
	return *s.entries[i].last, true
}

// Poller reads a schedule from a bus it does not own. It is not safe for
// concurrent use; run one poller per bus or serialize access externally.
type Poller struct {
	bus      regpoll.RegisterBus
	classify func(error) regpoll.Fault
	onFault  func(Register, error)
	done     func()
	now      func() time.Time
	attempts int
	backoff  time.Duration
}

type Option func(*Poller)

// WithClassifier replaces regpoll.Classify.
func WithClassifier(classify func(error) regpoll.Fault) Option {
	return func(p *Poller) {
		p.classify = classify
	}
}

// WithFaultHandler is called for every skipped (transient) read.
func WithFaultHandler(fn func(Register, error)) Option {
	return func(p *Poller) {
		p.onFault = fn
	}
}

// WithRetry retries a transient read up to attempts more times, waiting
// backoff between attempts, before the register is skipped.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Poller) {
		if attempts < 0 {
			attempts = 0
		}
		p.attempts = attempts
		p.backoff = backoff
	}
}

// WithCycleDone is called by RunLoop after the samples of a completed cycle
// have been reported and before the loop suspends.
func WithCycleDone(fn func()) Option {
	return func(p *Poller) {
		p.done = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

func New(bus regpoll.RegisterBus, opts ...Option) *Poller {
	p := &Poller{
		bus:      bus,
		classify: regpoll.Classify,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce reads every register of the schedule in order. Transient
// failures skip the register; a fatal failure aborts the cycle and is
// returned together with the samples collected before it.
func (p *Poller) RunOnce(ctx context.Context, s *Schedule) ([]Sample, error) {
	return p.runOnce(ctx, s, p.onFault)
}

func (p *Poller) runOnce(ctx context.Context, s *Schedule, onFault func(Register, error)) ([]Sample, error) {
	samples := make([]Sample, 0, len(s.entries))
	for _, e := range s.entries {
		sample, err := p.readWithRetry(ctx, e.reg)
		if err == nil {
			e.last = &sample
			samples = append(samples, sample)
			continue
		}
		if p.classify(err) == regpoll.FaultFatal {
			return samples, regpoll.Fatal(fmt.Errorf("poller: read %s: %w", e.reg, err))
		}
		if onFault != nil {
			var transient *regpoll.TransientReadError
			if !errors.As(err, &transient) {
				err = regpoll.Transient(e.reg.Address, err)
			}
			onFault(e.reg, err)
		}
	}
	return samples, nil
}

func (p *Poller) readWithRetry(ctx context.Context, reg Register) (Sample, error) {
	sample, err := p.read(ctx, reg)
	for i := 0; i < p.attempts && err != nil; i++ {
		if p.classify(err) == regpoll.FaultFatal {
			return sample, err
		}
		if !wait(ctx, p.backoff) {
			return sample, err
		}
		sample, err = p.read(ctx, reg)
	}
	return sample, err
}

func (p *Poller) read(ctx context.Context, reg Register) (Sample, error) {
	sample := Sample{
		Name:    reg.Name,
		Address: reg.Address,
		Width:   reg.Width,
	}
	switch reg.Width {
	case Width8:
		b, err := p.bus.ReadUint8(ctx, reg.Address)
		if err != nil {
			return sample, err
		}
		sample.Value = uint16(b)
	case Width16:
		w, err := p.bus.ReadWord(ctx, reg.Address)
		if err != nil {
			return sample, err
		}
		sample.Value = w
	case WidthBuffer:
		buf, err := p.bus.ReadBuffer(ctx, reg.Address, reg.Length)
		if err != nil {
			return sample, err
		}
		if len(buf) != reg.Length {
			return sample, fmt.Errorf("short buffer read: expected %d bytes, got %d", reg.Length, len(buf))
		}
		sample.Raw = append([]byte(nil), buf...)
	default:
		return sample, regpoll.Configf("width", "register %s has unsupported width %s", reg, reg.Width)
	}
	sample.At = p.now()
	return sample, nil
}

// RunLoop polls until shouldStop returns true, ctx is done or the bus
// fails fatally. The predicate is checked before every cycle and after
// every suspension. Samples are forwarded to sink in the order they were
// read; a fatal error is returned after the samples of the aborted cycle
// have been reported.
func (p *Poller) RunLoop(ctx context.Context, s *Schedule, sink Sink, shouldStop func() bool) error {
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}
	onFault := p.onFault
	if reporter, ok := sink.(FaultReporter); ok {
		onFault = func(reg Register, err error) {
			if p.onFault != nil {
				p.onFault(reg, err)
			}
			reporter.ReportFault(reg, err)
		}
	}
	for {
		if ctx.Err() != nil || shouldStop() {
			return nil
		}
		samples, err := p.runOnce(ctx, s, onFault)
		for _, sample := range samples {
			sink.Report(sample)
		}
		if err != nil {
			return err
		}
		if p.done != nil {
			p.done()
		}
		if !wait(ctx, s.interval) {
			return nil
		}
	}
}

// wait suspends for d and reports whether ctx is still alive.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
