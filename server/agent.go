package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/geoherd/herd/config"
	"github.com/geoherd/herd/flood"
	"github.com/geoherd/herd/metrics"
	"github.com/geoherd/herd/peer"
	"github.com/geoherd/herd/places"
	"github.com/geoherd/herd/store"
)

// shutdownGrace bounds how long Agent.Run waits for sender state
// machines to drain after a shutdown signal.
const shutdownGrace = 5 * time.Second

// statusLogInterval bounds how often the agent logs each neighbor
// link's connection state.
const statusLogInterval = 30 * time.Second

// Agent is one herd member: it binds the listen port, accepts both
// client and peer connections (dispatched identically, since a peer
// announces itself with a HELLO preamble once connected), and owns the
// peer link manager's lifecycle.
type Agent struct {
	view    *config.View
	engine  *flood.Engine
	peers   *peer.Manager
	places  *places.Client
	metrics *metrics.Sink
	logger  hclog.Logger
}

// New assembles an Agent from its configuration view. It does not bind
// the listener yet; call Run for that.
func New(view *config.View, logger hclog.Logger) (*Agent, error) {
	s, err := store.New()
	if err != nil {
		return nil, fmt.Errorf("server: building location store: %w", err)
	}
	m := metrics.New(view.Name)
	peers := peer.NewManager(view, logger, m)
	engine := flood.New(s, peers, m, logger.Named("flood"))
	pc := places.New(view.PlacesEndpoint, view.APIKey)

	return &Agent{
		view:    view,
		engine:  engine,
		peers:   peers,
		places:  pc,
		metrics: m,
		logger:  logger,
	}, nil
}

// Run binds the listen port, starts every peer sender, and serves
// connections until ctx is cancelled. It returns once the listener is
// closed and the accept loop and every peer sender have stopped, or once
// the grace window has elapsed, whichever comes first.
func (a *Agent) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.view.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: binding %s: %w", addr, err)
	}
	a.logger.Info("listening", "addr", addr, "name", a.view.Name)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)
	for _, l := range a.peers.Links() {
		g.Go(func() error {
			l.Run(runCtx)
			return nil
		})
	}
	g.Go(func() error {
		return a.accept(gCtx, ln)
	})
	g.Go(func() error {
		a.logLinkStatus(gCtx)
		return nil
	})

	<-ctx.Done()
	a.logger.Info("shutdown signal received, draining")
	ln.Close()
	cancel()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		a.logger.Warn("grace window elapsed, exiting with peer senders still draining")
	}
	return nil
}

// logLinkStatus periodically logs the connection state of every
// neighbor link, a cheap substitute for a status endpoint while the
// agent is otherwise silent about peer health between dial attempts.
func (a *Agent) logLinkStatus(ctx context.Context) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, l := range a.peers.Links() {
				a.logger.Debug("neighbor link status", "neighbor", name, "state", l.State())
			}
		}
	}
}

func (a *Agent) accept(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func() {
			h := NewHandler(conn, a.view, a.engine, a.places, a.metrics, a.logger.Named("conn").With("remote", conn.RemoteAddr()))
			h.Serve(ctx)
		}()
	}
}
