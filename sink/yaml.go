package sink

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/regpoll/poller"
)

type record struct {
	Register string    `yaml:"register"`
	Address  string    `yaml:"address"`
	Width    string    `yaml:"width"`
	Value    *uint16   `yaml:"value,omitempty"`
	Raw      string    `yaml:"raw,omitempty"`
	Decoded  string    `yaml:"decoded,omitempty"`
	At       time.Time `yaml:"at"`
}

func newRecord(s poller.Sample, decoders Decoders) record {
	r := record{
		Register: Key(s),
		Address:  fmt.Sprintf("%#x", s.Address),
		Width:    s.Width.String(),
		At:       s.At,
	}
	if s.Numeric() {
		v := s.Value
		r.Value = &v
	} else {
		r.Raw = hex.EncodeToString(s.Raw)
	}
	if v, ok, err := decoders.Decode(s); ok && err == nil {
		r.Decoded = v.String()
	}
	return r
}

// YAML writes every sample as a separate document of a YAML stream.
type YAML struct {
	enc      *yaml.Encoder
	decoders Decoders
}

func NewYAML(w io.Writer, decoders Decoders) *YAML {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAML{enc: enc, decoders: decoders}
}

func (y *YAML) Report(s poller.Sample) {
	if err := y.enc.Encode(newRecord(s, y.decoders)); err != nil {
		slog.Error("could not encode sample", "register", Key(s), "err", err)
	}
}

// Close flushes the stream.
func (y *YAML) Close() error {
	return y.enc.Close()
}
