package filerepo

import (
	"io"
	"log"

	metrics "github.com/armon/go-metrics"
)

const (
	DefaultBufferSize = 4096
)

// Option configures a FileStorage
type Option func(*options)

type options struct {
	lenWidth   int
	bufferSize int
	logger     *log.Logger
	metrics    *metrics.Metrics
}

func newOptions(opts ...Option) *options {
	o := &options{
		lenWidth:   DefaultLenWidth,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}

// WithLenWidth sets the width of the record length header.
// All records of a file share it, so a file must be reopened with the
// width it was written with.
func WithLenWidth(w int) Option {
	return func(o *options) {
		o.lenWidth = w
	}
}

// WithBufferSize sets the size of the append buffer
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for debug and error lines
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics enables append/read/flush metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
