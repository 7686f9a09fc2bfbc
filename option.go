package facilitator

import (
	"time"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/metrics"
)

// Option customizes a Facilitator beyond its configuration.
type Option func(*Facilitator)

// WithLogger replaces the configured default logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = l
	}
}

// WithMetrics attaches a metrics recorder. Counters are keyed by outcome
// code, latencies by operation.
func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.metrics = r
	}
}

// WithClock overrides the time source used for expiry checks and latency
// measurements. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Facilitator) {
		f.clock = now
	}
}
