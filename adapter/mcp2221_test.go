package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/regpoll"
	"github.com/mklimuk/regpoll/i2c"
)

// fakeHID answers every command with the next queued report.
type fakeHID struct {
	requests  [][]byte
	responses [][]byte
	closed    int
}

func (f *fakeHID) Write(p []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeHID) Read(p []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, errors.New("no response queued")
	}
	copy(p, f.responses[0])
	f.responses = f.responses[1:]
	return reportSize, nil
}

func (f *fakeHID) Close() error {
	f.closed++
	return nil
}

func report(b ...byte) []byte {
	r := make([]byte, reportSize)
	copy(r, b)
	return r
}

func newTestAdapter(dev *fakeHID) *MCP2221 {
	a := NewMCP2221(WithResponseWait(0))
	a.open = func(int) (hidConn, error) { return dev, nil }
	return a
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{report(0x90, 0x00)}}
	err := newTestAdapter(dev).WriteToAddr(context.Background(), 0x48, []byte{0x01})
	require.NoError(t, err)
	require.Len(t, dev.requests, 1)
	assert.Equal(t, []byte{0x90, 0x01, 0x00, 0x90, 0x01}, dev.requests[0][:5])
	assert.Equal(t, 1, dev.closed)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{report(0x90, 0x01)}}
	err := newTestAdapter(dev).WriteToAddr(context.Background(), 0x48, []byte{0x01})
	assert.ErrorIs(t, err, regpoll.ErrBusBusy)
	assert.Equal(t, regpoll.FaultTransient, regpoll.Classify(err))
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{
		report(0x91, 0x00),
		report(0x40, 0x00, 0x00, 0x02, 0x19, 0x80),
	}}
	buf := make([]byte, 2)
	err := newTestAdapter(dev).ReadFromAddr(context.Background(), 0x48, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x19, 0x80}, buf)
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{0x91, 0x02, 0x00, 0x91}, dev.requests[0][:4])
	assert.Equal(t, byte(0x40), dev.requests[1][0])
}

func TestMCP2221_ReadErrors(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
	}{
		{"engine error", report(0x40, 0x41)},
		{"size mismatch", report(0x40, 0x00, 0x00, 0x01, 0xFF)},
		{"size error marker", report(0x40, 0x00, 0x00, 127)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := &fakeHID{responses: [][]byte{report(0x91, 0x00), test.response}}
			err := newTestAdapter(dev).ReadFromAddr(context.Background(), 0x48, make([]byte, 2))
			require.Error(t, err)
			assert.Equal(t, regpoll.FaultTransient, regpoll.Classify(err))
		})
	}
}

func TestMCP2221_AsRegisterBus(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{
		report(0x90, 0x00),
		report(0x91, 0x00),
		report(0x40, 0x00, 0x00, 0x01, 0xE7),
	}}
	b, err := i2c.NewDevice(newTestAdapter(dev), 0x4D).ReadUint8(context.Background(), 0x00)
	require.NoError(t, err)
	assert.Equal(t, byte(0xE7), b)
}

func TestMCP2221_UnpluggedIsFatal(t *testing.T) {
	a := NewMCP2221(WithResponseWait(0))
	a.open = func(int) (hidConn, error) { return nil, ErrDeviceNotFound }
	err := a.WriteToAddr(context.Background(), 0x48, nil)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, regpoll.FaultFatal, regpoll.Classify(err))
}

func TestMCP2221_Closed(t *testing.T) {
	dev := &fakeHID{}
	a := newTestAdapter(dev)
	require.NoError(t, a.Close())
	err := a.ReadFromAddr(context.Background(), 0x48, make([]byte, 1))
	assert.ErrorIs(t, err, regpoll.ErrBusClosed)
	assert.Empty(t, dev.requests)
}

func TestMCP2221_ReadGPIO(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{
		report(0x51, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0xEF, 0x01, 0x01),
	}}
	values, err := newTestAdapter(dev).ReadGPIO(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GPIOModeIn, values.GPIO0Mode)
	assert.Equal(t, GPIOModeOut, values.GPIO1Mode)
	assert.Equal(t, GPIOModeNoOperation, values.GPIO2Mode)
	assert.Equal(t, []byte{1, 0, 0, 1}, values.Values())
}

func TestMCP2221_Status(t *testing.T) {
	resp := report(0x10, 0x00)
	resp[9], resp[10] = 0x04, 0x00
	resp[11], resp[12] = 0x02, 0x00
	resp[13] = 3
	resp[14] = 0x76
	resp[16], resp[17] = 0x90, 0x00
	resp[25] = 1
	dev := &fakeHID{responses: [][]byte{resp}}

	status, err := newTestAdapter(dev).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MCP2221Status{
		I2CDataBufferCounter:   3,
		I2CSpeedDivider:        0x76,
		CurrentAddress:         "9000",
		LastWriteRequestedSize: 4,
		LastWriteSentSize:      2,
		ReadPending:            1,
	}, status)
}

func TestMCP2221_ReleaseBus(t *testing.T) {
	dev := &fakeHID{responses: [][]byte{report(0x10, 0x00)}}
	require.NoError(t, newTestAdapter(dev).Release(context.Background()))
	assert.Equal(t, byte(0x10), dev.requests[0][0])
	assert.Equal(t, byte(0x10), dev.requests[0][2])
}
