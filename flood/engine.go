// Package flood implements the novelty gate and fan-out that disseminate
// location updates across the herd: an AT record only propagates on a
// strict monotonic-timestamp improvement for its client_id, which is
// what bounds total propagation per IAMAT to O(E) even on a graph with
// cycles.
package flood

import (
	"github.com/hashicorp/go-hclog"

	"github.com/geoherd/herd/metrics"
	"github.com/geoherd/herd/store"
	"github.com/geoherd/herd/wire"
)

// Broadcaster is the subset of *peer.Manager the flood engine needs;
// factored out so tests can supply a stub instead of real sockets.
type Broadcaster interface {
	Broadcast(line, except string)
}

// Engine ties the location store to the peer link manager.
type Engine struct {
	store   *store.Store
	peers   Broadcaster
	metrics *metrics.Sink
	logger  hclog.Logger
}

// New builds a flood engine over s, fanning accepted updates out
// through peers.
func New(s *store.Store, peers Broadcaster, m *metrics.Sink, logger hclog.Logger) *Engine {
	return &Engine{store: s, peers: peers, metrics: m, logger: logger}
}

// Apply applies rec to the store and, if it was novel, floods it to
// every neighbor except sourceTag (the neighbor name the record arrived
// on, or "" for a record accepted directly from a local client).
func (e *Engine) Apply(rec *wire.Record, sourceTag string) (store.Decision, error) {
	decision, err := e.store.Apply(rec)
	if err != nil {
		return decision, err
	}
	if decision == store.Ignored {
		e.logger.Trace("update not novel, suppressed", "client_id", rec.ClientID, "source", sourceTag)
		return decision, nil
	}

	e.peers.Broadcast(rec.Raw, sourceTag)
	e.metrics.IncrCounter(metrics.FloodSent)
	e.logger.Debug("flooded update", "client_id", rec.ClientID, "source", sourceTag)
	return decision, nil
}

// Store exposes the read path (WHATSAT needs it directly).
func (e *Engine) Store() *store.Store {
	return e.store
}
