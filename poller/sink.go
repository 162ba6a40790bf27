package poller

// Sink consumes samples. Report must not block for longer than the poll
// interval and must handle its own failures.
type Sink interface {
	Report(sample Sample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Sample)

func (f SinkFunc) Report(sample Sample) {
	f(sample)
}

// FaultReporter is implemented by sinks that want to see skipped reads.
type FaultReporter interface {
	ReportFault(reg Register, err error)
}
