// Package metrics defines the counters and latency observations the
// facilitator emits. Counter names are outcome codes ("verified", "settled"
// or a rejection code); latency names are operations ("verify", "settle").
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
