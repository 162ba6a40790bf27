package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/regpoll"
)

// MockRegisterBus is a mock implementation of regpoll.RegisterBus using testify/mock
type MockRegisterBus struct {
	mock.Mock
}

func (m *MockRegisterBus) ReadUint8(ctx context.Context, address uint16) (byte, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(byte), args.Error(1)
}

func (m *MockRegisterBus) ReadWord(ctx context.Context, address uint16) (uint16, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint16), args.Error(1)
}

func (m *MockRegisterBus) ReadBuffer(ctx context.Context, address uint16, length int) ([]byte, error) {
	args := m.Called(ctx, address, length)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return epoch
}

func word(addr uint16, v uint16) Sample {
	return Sample{Address: addr, Width: Width16, Value: v, At: epoch}
}

func TestConfigure(t *testing.T) {
	regs := []Register{
		{Name: "b", Address: 0x01, Width: Width16},
		{Name: "a", Address: 0x00, Width: Width8},
		{Name: "id", Address: 0x10, Width: WidthBuffer, Length: 4},
		{Name: "a-again", Address: 0x00, Width: Width8},
	}
	s, err := Configure(regs, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.Interval())
	assert.Equal(t, regs, s.Registers())

	s, err = Configure(regs[:1], 0)
	require.NoError(t, err)
	assert.Zero(t, s.Interval())
}

func TestConfigure_Errors(t *testing.T) {
	tests := []struct {
		name      string
		registers []Register
		interval  time.Duration
		field     string
	}{
		{"empty", []Register{}, time.Second, "registers"},
		{"nil", nil, time.Second, "registers"},
		{"negative interval", []Register{{Address: 1, Width: Width8}}, -time.Millisecond, "interval"},
		{"buffer without length", []Register{{Address: 1, Width: WidthBuffer}}, 0, "registers[0].length"},
		{"unknown width", []Register{{Address: 1, Width: Width8}, {Address: 2}}, 0, "registers[1].width"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Configure(tt.registers, tt.interval)
			assert.Nil(t, s)
			var cfgErr *regpoll.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRunOnce_ReadsInScheduleOrder(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x00)).Return(uint16(42), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(99), nil).Once()

	s, err := Configure([]Register{
		{Address: 0x00, Width: Width16},
		{Address: 0x01, Width: Width16},
	}, 3000*time.Millisecond)
	require.NoError(t, err)

	samples, err := New(bus, WithClock(fixedClock)).RunOnce(context.Background(), s)
	require.NoError(t, err)
	if diff := cmp.Diff([]Sample{word(0x00, 42), word(0x01, 99)}, samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	bus.AssertExpectations(t)
}

func TestRunOnce_Widths(t *testing.T) {
	raw := []byte{'R', 'P', 'i', '4'}
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x04)).Return(byte(0xFF), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x05)).Return(uint16(0xBEEF), nil).Once()
	bus.On("ReadBuffer", mock.Anything, uint16(0x10), 4).Return(raw, nil).Once()

	s, err := Configure([]Register{
		{Name: "status", Address: 0x04, Width: Width8},
		{Name: "raw", Address: 0x05, Width: Width16},
		{Name: "model", Address: 0x10, Width: WidthBuffer, Length: 4},
	}, 0)
	require.NoError(t, err)

	samples, err := New(bus, WithClock(fixedClock)).RunOnce(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, uint16(255), samples[0].Value)
	assert.Equal(t, uint16(0xBEEF), samples[1].Value)
	assert.Equal(t, []byte("RPi4"), samples[2].Raw)
	assert.False(t, samples[2].Numeric())

	// the sample must not alias the bus buffer
	raw[0] = 'X'
	assert.Equal(t, []byte("RPi4"), samples[2].Raw)
}

func TestRunOnce_ShortBufferIsSkipped(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadBuffer", mock.Anything, uint16(0x10), 4).Return([]byte{1, 2}, nil).Once()
	bus.On("ReadUint8", mock.Anything, uint16(0x11)).Return(byte(3), nil).Once()

	s, err := Configure([]Register{
		{Address: 0x10, Width: WidthBuffer, Length: 4},
		{Address: 0x11, Width: Width8},
	}, 0)
	require.NoError(t, err)

	var faults []error
	samples, err := New(bus, WithFaultHandler(func(_ Register, err error) {
		faults = append(faults, err)
	})).RunOnce(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, uint16(0x11), samples[0].Address)
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0].Error(), "short buffer read")
}

func TestRunOnce_TransientFaultSkipsRegister(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x04)).Return(uint16(0), errors.New("nack")).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(7), nil).Once()

	s, err := Configure([]Register{
		{Address: 0x04, Width: Width16},
		{Address: 0x01, Width: Width16},
	}, 0)
	require.NoError(t, err)

	var skipped []Register
	var faults []error
	p := New(bus, WithClock(fixedClock), WithFaultHandler(func(reg Register, err error) {
		skipped = append(skipped, reg)
		faults = append(faults, err)
	}))
	samples, err := p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	if diff := cmp.Diff([]Sample{word(0x01, 7)}, samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	require.Len(t, skipped, 1)
	assert.Equal(t, uint16(0x04), skipped[0].Address)
	var transient *regpoll.TransientReadError
	require.ErrorAs(t, faults[0], &transient)
	assert.Equal(t, uint16(0x04), transient.Address)
	bus.AssertExpectations(t)
}

func TestRunOnce_TransientOnMiddleRegisterKeepsOrder(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(1), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x02)).Return(uint16(0), regpoll.ErrBusBusy).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x03)).Return(uint16(3), nil).Once()

	s, err := Configure([]Register{
		{Address: 0x01, Width: Width16},
		{Address: 0x02, Width: Width16},
		{Address: 0x03, Width: Width16},
	}, 0)
	require.NoError(t, err)

	samples, err := New(bus, WithClock(fixedClock)).RunOnce(context.Background(), s)
	require.NoError(t, err)
	if diff := cmp.Diff([]Sample{word(0x01, 1), word(0x03, 3)}, samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
}

func TestRunOnce_FatalFaultAbortsCycle(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(1), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x02)).Return(uint16(0), regpoll.Fatal(errors.New("unplugged"))).Once()

	s, err := Configure([]Register{
		{Address: 0x01, Width: Width16},
		{Address: 0x02, Width: Width16},
		{Address: 0x03, Width: Width16},
	}, 0)
	require.NoError(t, err)

	samples, err := New(bus, WithClock(fixedClock)).RunOnce(context.Background(), s)
	var fatal *regpoll.FatalBusError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, err.Error(), "unplugged")
	if diff := cmp.Diff([]Sample{word(0x01, 1)}, samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	bus.AssertNotCalled(t, "ReadWord", mock.Anything, uint16(0x03))
	bus.AssertExpectations(t)
}

func TestRunOnce_ClosedBusIsFatal(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(0), regpoll.ErrBusClosed).Once()

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, 0)
	require.NoError(t, err)

	samples, err := New(bus).RunOnce(context.Background(), s)
	assert.Empty(t, samples)
	assert.ErrorIs(t, err, regpoll.ErrBusClosed)
	assert.Equal(t, regpoll.FaultFatal, regpoll.Classify(err))
}

func TestRunOnce_DuplicateAddressesArePolledTwice(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x07)).Return(byte(1), nil).Once()
	bus.On("ReadUint8", mock.Anything, uint16(0x07)).Return(byte(2), nil).Once()

	s, err := Configure([]Register{
		{Address: 0x07, Width: Width8},
		{Address: 0x07, Width: Width8},
	}, 0)
	require.NoError(t, err)

	samples, err := New(bus).RunOnce(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, uint16(1), samples[0].Value)
	assert.Equal(t, uint16(2), samples[1].Value)
	bus.AssertNumberOfCalls(t, "ReadUint8", 2)
}

func TestRunOnce_UpdatesLastValue(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x00)).Return(uint16(5), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x00)).Return(uint16(0), errors.New("nack")).Once()

	s, err := Configure([]Register{{Address: 0x00, Width: Width16}}, 0)
	require.NoError(t, err)

	_, ok := s.LastValue(0)
	assert.False(t, ok, "no value before the first read")

	p := New(bus, WithClock(fixedClock))
	_, err = p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	last, ok := s.LastValue(0)
	require.True(t, ok)
	assert.Equal(t, uint16(5), last.Value)

	// a failed read keeps the previous value
	_, err = p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	last, ok = s.LastValue(0)
	require.True(t, ok)
	assert.Equal(t, uint16(5), last.Value)

	_, ok = s.LastValue(1)
	assert.False(t, ok)
}

func TestRunOnce_Retry(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		failures int
		expected int
	}{
		{"no retry skips", 0, 1, 0},
		{"retry recovers", 2, 2, 1},
		{"retry exhausted", 1, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockRegisterBus)
			bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(0), errors.New("nack")).Times(tt.failures)
			bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(9), nil).Maybe()

			s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, 0)
			require.NoError(t, err)

			samples, err := New(bus, WithRetry(tt.attempts, time.Millisecond)).RunOnce(context.Background(), s)
			require.NoError(t, err)
			assert.Len(t, samples, tt.expected)
		})
	}
}

func TestRunOnce_RetryDoesNotRetryFatal(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(0), regpoll.ErrBusClosed).Once()

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, 0)
	require.NoError(t, err)

	_, err = New(bus, WithRetry(5, time.Millisecond)).RunOnce(context.Background(), s)
	assert.Error(t, err)
	bus.AssertNumberOfCalls(t, "ReadUint8", 1)
}

func TestRunOnce_CustomClassifier(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(0), errors.New("nack")).Once()

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, 0)
	require.NoError(t, err)

	allFatal := func(error) regpoll.Fault { return regpoll.FaultFatal }
	_, err = New(bus, WithClassifier(allFatal)).RunOnce(context.Background(), s)
	var fatal *regpoll.FatalBusError
	assert.ErrorAs(t, err, &fatal)
}

type recordingSink struct {
	samples []Sample
	faults  []Register
}

func (r *recordingSink) Report(sample Sample) {
	r.samples = append(r.samples, sample)
}

func (r *recordingSink) ReportFault(reg Register, _ error) {
	r.faults = append(r.faults, reg)
}

func TestRunLoop_StopsOnPredicate(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x00)).Return(uint16(42), nil)
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(99), nil)

	s, err := Configure([]Register{
		{Address: 0x00, Width: Width16},
		{Address: 0x01, Width: Width16},
	}, time.Millisecond)
	require.NoError(t, err)

	sink := &recordingSink{}
	checks := 0
	shouldStop := func() bool {
		checks++
		return len(sink.samples) >= 6
	}
	err = New(bus, WithClock(fixedClock)).RunLoop(context.Background(), s, sink, shouldStop)
	require.NoError(t, err)

	want := []Sample{
		word(0x00, 42), word(0x01, 99),
		word(0x00, 42), word(0x01, 99),
		word(0x00, 42), word(0x01, 99),
	}
	if diff := cmp.Diff(want, sink.samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, checks)
	bus.AssertNumberOfCalls(t, "ReadWord", 6)
}

func TestRunLoop_StopsBeforeFirstCycle(t *testing.T) {
	bus := new(MockRegisterBus)
	s, err := Configure([]Register{{Address: 0x00, Width: Width8}}, 0)
	require.NoError(t, err)

	sink := &recordingSink{}
	err = New(bus).RunLoop(context.Background(), s, sink, func() bool { return true })
	require.NoError(t, err)
	assert.Empty(t, sink.samples)
	bus.AssertNotCalled(t, "ReadUint8", mock.Anything, mock.Anything)
}

func TestRunLoop_FatalErrorStopsLoop(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadWord", mock.Anything, uint16(0x00)).Return(uint16(1), nil).Twice()
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(2), nil).Once()
	bus.On("ReadWord", mock.Anything, uint16(0x01)).Return(uint16(0), regpoll.ErrBusClosed).Once()

	s, err := Configure([]Register{
		{Address: 0x00, Width: Width16},
		{Address: 0x01, Width: Width16},
	}, 0)
	require.NoError(t, err)

	sink := &recordingSink{}
	err = New(bus, WithClock(fixedClock)).RunLoop(context.Background(), s, sink, nil)
	assert.ErrorIs(t, err, regpoll.ErrBusClosed)
	// the sample read before the fatal fault of the second cycle is still reported
	if diff := cmp.Diff([]Sample{word(0x00, 1), word(0x01, 2), word(0x00, 1)}, sink.samples); diff != "" {
		t.Errorf("unexpected samples (-want +got):\n%s", diff)
	}
	bus.AssertExpectations(t)
}

func TestRunLoop_ForwardsTransientFaultsToSink(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x04)).Return(byte(0), errors.New("nack"))
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(7), nil)

	s, err := Configure([]Register{
		{Address: 0x04, Width: Width8},
		{Address: 0x01, Width: Width8},
	}, 0)
	require.NoError(t, err)

	sink := &recordingSink{}
	handled := 0
	p := New(bus, WithFaultHandler(func(Register, error) { handled++ }))
	err = p.RunLoop(context.Background(), s, sink, func() bool { return len(sink.samples) >= 2 })
	require.NoError(t, err)
	assert.Len(t, sink.samples, 2)
	assert.Len(t, sink.faults, 2)
	assert.Equal(t, 2, handled)
	assert.Equal(t, uint16(0x04), sink.faults[0].Address)
}

func TestRunLoop_CancelInterruptsSuspension(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(1), nil).Once()

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := SinkFunc(func(Sample) { cancel() })

	done := make(chan error, 1)
	go func() {
		done <- New(bus).RunLoop(ctx, s, sink, nil)
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not return after cancellation")
	}
	bus.AssertExpectations(t)
}

func TestRunLoop_CycleDoneRunsBeforeSuspension(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(1), nil).Once()
	bus.On("ReadUint8", mock.Anything, uint16(0x02)).Return(byte(0), errors.New("nack")).Once()

	s, err := Configure([]Register{
		{Address: 0x01, Width: Width8},
		{Address: 0x02, Width: Width8},
	}, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}
	cycles := 0
	onDone := func() {
		cycles++
		assert.Len(t, sink.samples, 1)
		assert.Len(t, sink.faults, 1)
		cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- New(bus, WithCycleDone(onDone)).RunLoop(ctx, s, sink, nil)
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop kept waiting after the cycle hook cancelled")
	}
	assert.Equal(t, 1, cycles)
	bus.AssertExpectations(t)
}

func TestRunLoop_CycleDoneSkippedOnFatal(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(0), regpoll.ErrBusClosed).Once()

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, 0)
	require.NoError(t, err)

	called := false
	err = New(bus, WithCycleDone(func() { called = true })).RunLoop(context.Background(), s, &recordingSink{}, nil)
	assert.ErrorIs(t, err, regpoll.ErrBusClosed)
	assert.False(t, called)
}

func TestRunLoop_AttemptTimesAreMonotonic(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("ReadUint8", mock.Anything, uint16(0x01)).Return(byte(1), nil)

	s, err := Configure([]Register{{Address: 0x01, Width: Width8}}, time.Millisecond)
	require.NoError(t, err)

	sink := &recordingSink{}
	err = New(bus).RunLoop(context.Background(), s, sink, func() bool { return len(sink.samples) >= 5 })
	require.NoError(t, err)
	for i := 1; i < len(sink.samples); i++ {
		assert.False(t, sink.samples[i].At.Before(sink.samples[i-1].At))
	}
}

func TestParseWidth(t *testing.T) {
	tests := []struct {
		given    string
		expected Width
	}{
		{"8", Width8},
		{"byte", Width8},
		{"16", Width16},
		{"word", Width16},
		{"buffer", WidthBuffer},
	}
	for _, test := range tests {
		t.Run(test.given, func(t *testing.T) {
			w, err := ParseWidth(test.given)
			require.NoError(t, err)
			assert.Equal(t, test.expected, w)
			assert.NotEmpty(t, w.String())
		})
	}
	_, err := ParseWidth("32")
	assert.Error(t, err)
}

func TestSample_Equal(t *testing.T) {
	a := Sample{Address: 1, Width: WidthBuffer, Raw: []byte{1, 2}, At: epoch}
	b := Sample{Address: 1, Width: WidthBuffer, Raw: []byte{1, 2}, At: epoch.Add(time.Second)}
	c := Sample{Address: 1, Width: WidthBuffer, Raw: []byte{1, 3}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "0x1=01 02", a.String())
	assert.Equal(t, "temp(0x2)=3", Sample{Name: "temp", Address: 2, Width: Width8, Value: 3}.String())
}
