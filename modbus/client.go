// Package modbus reads registers from, and mirrors samples into, Modbus
// devices over TCP or RTU.
package modbus

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

const rtuScheme = "rtu://"

// Config describes a single Modbus endpoint. Endpoint is either host:port
// (TCP) or rtu:///dev/ttyUSB0 (RTU over a serial line).
type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
	// BaudRate applies to RTU endpoints only.
	BaudRate int
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	io.Closer
}

// Client is a connection to one Modbus endpoint. Requests are serialized.
type Client struct {
	mu      sync.Mutex
	handler handler
	client  modbus.Client
}

func Dial(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	var h handler
	if path, ok := strings.CutPrefix(cfg.Endpoint, rtuScheme); ok {
		rtu := modbus.NewRTUClientHandler(path)
		rtu.SlaveId = cfg.UnitID
		rtu.Timeout = cfg.Timeout
		rtu.BaudRate = cfg.BaudRate
		if rtu.BaudRate == 0 {
			rtu.BaudRate = 19200
		}
		rtu.DataBits = 8
		rtu.Parity = "E"
		rtu.StopBits = 1
		h = rtu
	} else {
		tcp := modbus.NewTCPClientHandler(cfg.Endpoint)
		tcp.SlaveId = cfg.UnitID
		tcp.Timeout = cfg.Timeout
		h = tcp
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect %s: %w", cfg.Endpoint, err)
	}
	return &Client{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.ReadHoldingRegisters(addr, qty)
}

func (c *Client) ReadInputRegisters(addr, qty uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.ReadInputRegisters(addr, qty)
}

func (c *Client) WriteMultipleRegisters(addr, qty uint16, value []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.WriteMultipleRegisters(addr, qty, value)
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

// registerWriter is the write half of a Modbus client.
type registerWriter interface {
	WriteMultipleRegisters(addr, qty uint16, value []byte) ([]byte, error)
}

// Writer writes register blocks to a Modbus target.
type Writer struct {
	client registerWriter
}

func NewWriter(client registerWriter) *Writer {
	return &Writer{client: client}
}

func (w *Writer) WriteRegisters(addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	_, err := w.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	if err != nil {
		return fmt.Errorf("modbus: write %d registers at %d: %w", len(regs), addr, err)
	}
	return nil
}
