package sink

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/mklimuk/regpoll/poller"
)

// Log emits a structured record per sample at info level and per skipped
// read at warn level.
type Log struct {
	logger   *slog.Logger
	decoders Decoders
}

func NewLog(logger *slog.Logger, decoders Decoders) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, decoders: decoders}
}

func (l *Log) Report(s poller.Sample) {
	attrs := []any{
		"register", Key(s),
		"address", fmt.Sprintf("%#x", s.Address),
		"width", s.Width.String(),
	}
	if s.Numeric() {
		attrs = append(attrs, "value", s.Value)
	} else {
		attrs = append(attrs, "raw", hex.EncodeToString(s.Raw))
	}
	v, ok, err := l.decoders.Decode(s)
	switch {
	case err != nil:
		attrs = append(attrs, "decode_error", err)
	case ok:
		attrs = append(attrs, "decoded", v.String())
	}
	l.logger.Info("sample", attrs...)
}

func (l *Log) ReportFault(reg poller.Register, err error) {
	l.logger.Warn("register read skipped", "register", RegisterKey(reg), "address", fmt.Sprintf("%#x", reg.Address), "err", err)
}
