package sink

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mklimuk/regpoll/poller"
)

const meterName = "github.com/mklimuk/regpoll/sink"

// Metrics counts samples and skipped reads and exposes the last value of
// every numeric register as an observable gauge.
type Metrics struct {
	mx       sync.Mutex
	samples  metric.Int64Counter
	faults   metric.Int64Counter
	last     map[string]gaugePoint
	decoders Decoders
}

type gaugePoint struct {
	value float64
	attrs attribute.Set
}

func NewMetrics(provider metric.MeterProvider, decoders Decoders) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{
		last:     make(map[string]gaugePoint),
		decoders: decoders,
	}
	var err error
	m.samples, err = meter.Int64Counter("regpoll.samples",
		metric.WithDescription("Number of register samples read"),
		metric.WithUnit("{sample}"))
	if err != nil {
		return nil, fmt.Errorf("could not create samples counter: %w", err)
	}
	m.faults, err = meter.Int64Counter("regpoll.faults",
		metric.WithDescription("Number of register reads skipped after a transient fault"),
		metric.WithUnit("{fault}"))
	if err != nil {
		return nil, fmt.Errorf("could not create faults counter: %w", err)
	}
	_, err = meter.Float64ObservableGauge("regpoll.register.value",
		metric.WithDescription("Last value read from a numeric register, decoded when a decoder is configured"),
		metric.WithFloat64Callback(m.observe))
	if err != nil {
		return nil, fmt.Errorf("could not create value gauge: %w", err)
	}
	return m, nil
}

func registerAttrs(key string, address uint16) attribute.Set {
	return attribute.NewSet(
		attribute.String("register", key),
		attribute.String("address", fmt.Sprintf("%#x", address)),
	)
}

func (m *Metrics) Report(s poller.Sample) {
	key := Key(s)
	attrs := registerAttrs(key, s.Address)
	m.samples.Add(context.Background(), 1, metric.WithAttributeSet(attrs))

	value, ok := float64(s.Value), s.Numeric()
	if v, decoded, err := m.decoders.Decode(s); decoded && err == nil && v.Text == "" {
		value, ok = v.Number, true
	}
	if !ok {
		return
	}
	m.mx.Lock()
	m.last[key] = gaugePoint{value: value, attrs: attrs}
	m.mx.Unlock()
}

func (m *Metrics) ReportFault(reg poller.Register, err error) {
	m.faults.Add(context.Background(), 1, metric.WithAttributeSet(registerAttrs(RegisterKey(reg), reg.Address)))
}

func (m *Metrics) observe(_ context.Context, o metric.Float64Observer) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	for _, p := range m.last {
		o.Observe(p.value, metric.WithAttributeSet(p.attrs))
	}
	return nil
}
