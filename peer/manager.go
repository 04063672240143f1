package peer

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/geoherd/herd/config"
	"github.com/geoherd/herd/metrics"
)

// Manager owns one Link per configured neighbor and is the flood
// engine's only way to reach the network.
type Manager struct {
	links map[string]*Link
}

// NewManager builds a Link for every neighbor in view, in the
// disconnected state. Call Start to begin dialing.
func NewManager(view *config.View, logger hclog.Logger, m *metrics.Sink) *Manager {
	links := make(map[string]*Link, len(view.Neighbors))
	for _, name := range view.Neighbors {
		l := logger.Named("peer").With("neighbor", name)
		links[name] = NewLink(name, view.PeerEndpoints[name], view.Name, view.PeerQueueBound, l, m)
	}
	return &Manager{links: links}
}

// Start launches every link's sender goroutine. It returns
// immediately; links continue running until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, l := range m.links {
		go l.Run(ctx)
	}
}

// Broadcast enqueues line on every neighbor link except except (the
// neighbor name the update arrived from, or "" for a local origin).
func (m *Manager) Broadcast(line string, except string) {
	for name, l := range m.links {
		if name == except {
			continue
		}
		l.Enqueue(line)
	}
}

// Links returns a snapshot of every configured link, keyed by name.
func (m *Manager) Links() map[string]*Link {
	out := make(map[string]*Link, len(m.links))
	for k, v := range m.links {
		out[k] = v
	}
	return out
}
