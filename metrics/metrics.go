// Package metrics wires the herd's operational counters through
// github.com/hashicorp/go-metrics, the same instrumentation library the
// teacher's client/allocrunner hooks use. The herd only needs counters
// (queue drops, dial failures, places timeouts), so a single in-memory
// sink is enough; nothing here depends on an exposition format.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Sink is the subset of counting behavior the rest of the herd needs.
type Sink struct {
	m      *gometrics.Metrics
	labels []gometrics.Label
}

// New creates a counter sink labeled with this server's own name.
func New(serverName string) *Sink {
	inm := gometrics.NewInmemSink(time.Minute, 2*time.Hour)
	cfg := gometrics.DefaultConfig("geoherd")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, _ := gometrics.New(cfg, inm)
	return &Sink{
		m:      m,
		labels: []gometrics.Label{{Name: "server", Value: serverName}},
	}
}

// IncrCounter increments a named counter by one.
func (s *Sink) IncrCounter(key string) {
	if s == nil || s.m == nil {
		return
	}
	s.m.IncrCounterWithLabels([]string{"geoherd", key}, 1.0, s.labels)
}

// Well-known counter names, kept here so callers never hand-roll a key.
const (
	FloodSent         = "flood.sent"
	FloodDroppedQueue = "flood.dropped_queue_full"
	PeerDialFailure   = "peer.dial_failure"
	PeerWriteFailure  = "peer.write_failure"
	PlacesFailure     = "places.failure"
	PlacesTimeout     = "places.timeout"
	ProtocolInvalid   = "protocol.invalid_command"
)
