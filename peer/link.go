// Package peer maintains best-effort outbound connections to each
// configured neighbor and exposes a non-blocking "send this AT line"
// operation. Reconnection uses an exponential backoff with jitter
// (github.com/cenkalti/backoff/v4), a disconnected/connecting/connected
// state machine, and a bounded drop-oldest outbound queue per link.
package peer

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/geoherd/herd/metrics"
)

// State is a NeighborLink's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// HelloPrefix opens the one-line preamble a Link sends immediately
// after connecting, identifying itself to the accepting member before
// any AT lines follow. It is not part of the client-facing wire
// protocol, it only ever travels on the unidirectional socket one herd
// member opens to another, and it lets the accepting side tag every AT
// line that arrives on that connection with the correct source
// neighbor for loop suppression.
const HelloPrefix = "HELLO "

// ParseHello reports the neighbor name carried by a HELLO preamble
// line, if line is one.
func ParseHello(line string) (name string, ok bool) {
	if !strings.HasPrefix(line, HelloPrefix) {
		return "", false
	}
	name = strings.TrimSpace(strings.TrimPrefix(line, HelloPrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

// Link is one NeighborLink: a dedicated sender task, its outbound
// queue, and its current connection state.
type Link struct {
	Name     string
	Endpoint string
	ownName  string

	queue   *queue
	logger  hclog.Logger
	metrics *metrics.Sink

	mu        sync.RWMutex
	state     State
	lastError error
}

// NewLink creates a NeighborLink in the disconnected state. Run must be
// started in its own goroutine to actually dial out. ownName is this
// member's own name, announced via the HELLO preamble on connect.
func NewLink(name, endpoint, ownName string, queueBound int, logger hclog.Logger, m *metrics.Sink) *Link {
	return &Link{
		Name:     name,
		Endpoint: endpoint,
		ownName:  ownName,
		queue:    newQueue(queueBound),
		logger:   logger,
		metrics:  m,
	}
}

// State returns the link's current connection state.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Link) setState(s State, err error) {
	l.mu.Lock()
	l.state = s
	l.lastError = err
	l.mu.Unlock()
}

// Enqueue appends line to this link's outbound queue without blocking.
// If the queue is already at its bound the oldest pending line is
// dropped to make room, and the drop counter is incremented.
func (l *Link) Enqueue(line string) {
	if l.queue.push(line) {
		l.metrics.IncrCounter(metrics.FloodDroppedQueue)
		l.logger.Warn("outbound queue full, dropped oldest pending line")
	}
}

// Run drives the link's state machine until ctx is cancelled: dial,
// drain the outbound queue while connected, and back off on failure.
func (l *Link) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // retry forever; the herd never gives up on a neighbor

	for {
		if ctx.Err() != nil {
			return
		}

		l.setState(Connecting, nil)
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", l.Endpoint)
		if err != nil {
			l.setState(Disconnected, err)
			l.metrics.IncrCounter(metrics.PeerDialFailure)
			l.logger.Info("dial failed, backing off", "error", err)
			if !l.wait(ctx, bo) {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write([]byte(HelloPrefix + l.ownName + "\n")); err != nil {
			conn.Close()
			l.setState(Disconnected, err)
			l.metrics.IncrCounter(metrics.PeerWriteFailure)
			if !l.wait(ctx, bo) {
				return
			}
			continue
		}

		bo.Reset()
		l.setState(Connected, nil)
		l.logger.Debug("connected")
		l.drain(ctx, conn)
		conn.Close()
		l.setState(Disconnected, nil)
		if !l.wait(ctx, bo) {
			return
		}
	}
}

// wait blocks for the next backoff interval, or returns false without
// waiting if ctx is already cancelled.
func (l *Link) wait(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(bo.NextBackOff()):
		return true
	}
}

// drain flushes queued lines to conn until the connection breaks or ctx
// is cancelled.
func (l *Link) drain(ctx context.Context, conn net.Conn) {
	flush := func() bool {
		for _, line := range l.queue.drain() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				l.metrics.IncrCounter(metrics.PeerWriteFailure)
				l.logger.Info("write failed, disconnecting", "error", err)
				return false
			}
		}
		return true
	}

	if !flush() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.queue.notify:
			if !flush() {
				return
			}
		}
	}
}
