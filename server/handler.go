// Package server implements the per-connection protocol handler and
// the listener/lifecycle that ties every other component together.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/geoherd/herd/config"
	"github.com/geoherd/herd/flood"
	"github.com/geoherd/herd/metrics"
	"github.com/geoherd/herd/peer"
	"github.com/geoherd/herd/places"
	"github.com/geoherd/herd/wire"
)

const maxLineBytes = 64 * 1024

// Handler owns one accepted connection end to end: reading lines,
// dispatching commands, and writing replies in request order.
type Handler struct {
	conn    net.Conn
	view    *config.View
	engine  *flood.Engine
	places  *places.Client
	metrics *metrics.Sink
	logger  hclog.Logger
	now     func() time.Time
}

// NewHandler builds a Handler for one freshly accepted connection.
func NewHandler(conn net.Conn, view *config.View, engine *flood.Engine, pc *places.Client, m *metrics.Sink, logger hclog.Logger) *Handler {
	return &Handler{
		conn:    conn,
		view:    view,
		engine:  engine,
		places:  pc,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Serve reads and dispatches lines until the connection closes, the
// frame can no longer be resynchronized, or ctx is cancelled.
func (h *Handler) Serve(ctx context.Context) {
	defer h.conn.Close()

	go func() {
		<-ctx.Done()
		h.conn.Close()
	}()

	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	w := bufio.NewWriter(h.conn)

	sourceTag := "" // "" until a HELLO preamble identifies this as a peer link
	first := true

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if first {
			first = false
			if name, ok := peer.ParseHello(line); ok {
				if h.isNeighbor(name) {
					sourceTag = name
					h.logger.Debug("peer link identified", "neighbor", name)
				}
				continue
			}
		}

		h.dispatch(ctx, line, sourceTag, w)
		if err := w.Flush(); err != nil {
			h.logger.Debug("write failed, closing connection", "error", err)
			return
		}
	}
}

func (h *Handler) isNeighbor(name string) bool {
	for _, n := range h.view.Neighbors {
		if n == name {
			return true
		}
	}
	return false
}

func (h *Handler) dispatch(ctx context.Context, line, sourceTag string, w *bufio.Writer) {
	fields := wire.Tokenize(line)
	if len(fields) == 0 {
		h.invalid(line, w)
		return
	}

	switch fields[0] {
	case wire.CmdIAMAT:
		h.handleIAMAT(line, fields[1:], w)
	case wire.CmdWHATSAT:
		h.handleWHATSAT(ctx, line, fields[1:], w)
	case wire.CmdAT:
		h.handleAT(line, sourceTag)
	default:
		h.invalid(line, w)
	}
}

func (h *Handler) invalid(line string, w *bufio.Writer) {
	h.metrics.IncrCounter(metrics.ProtocolInvalid)
	fmt.Fprintf(w, "%s\n", wire.Invalid(line))
}

// handleIAMAT computes the time skew between this server's clock and
// the client's reported timestamp, builds and applies the AT record
// locally, then replies with the AT line exactly as flooded, ahead of
// whatever the flood to other neighbors does next since Enqueue never
// blocks.
func (h *Handler) handleIAMAT(line string, args []string, w *bufio.Writer) {
	f, err := wire.ParseIAMAT(args)
	if err != nil {
		h.invalid(line, w)
		return
	}

	receivedAt := float64(h.now().UnixNano()) / 1e9
	skew := receivedAt - f.Timestamp
	rec := wire.RenderAT(h.view.Name, skew, f)

	if _, err := h.engine.Apply(rec, ""); err != nil {
		h.logger.Warn("store apply failed", "error", err)
		h.invalid(line, w)
		return
	}

	fmt.Fprintf(w, "%s\n", rec.Raw)
}

// handleWHATSAT looks up the stored record for the requested client,
// fetches nearby points of interest for its coordinates within a
// bounded deadline, and replies with the stored AT line followed by the
// places response (or "{}" on any places failure).
func (h *Handler) handleWHATSAT(ctx context.Context, line string, args []string, w *bufio.Writer) {
	clientID, radiusKM, maxResults, err := wire.ParseWHATSAT(args)
	if err != nil {
		h.invalid(line, w)
		return
	}

	rec, ok, err := h.engine.Store().Get(clientID)
	if err != nil || !ok {
		h.invalid(line, w)
		return
	}

	deadline := h.view.WhatsatTimeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	lookupCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := h.places.Lookup(lookupCtx, rec.Lat, rec.Lon, radiusKM, maxResults)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.metrics.IncrCounter(metrics.PlacesTimeout)
		} else {
			h.metrics.IncrCounter(metrics.PlacesFailure)
		}
		h.logger.Warn("places lookup failed", "client_id", clientID, "error", err)
		body = []byte("{}")
	}

	trimmed := strings.TrimRight(string(body), " \t\r\n")
	fmt.Fprintf(w, "%s\n%s\n\n", rec.Raw, trimmed)
}

// handleAT applies a peer-originated AT record to the flood engine with
// no reply, crediting sourceTag as the arrival neighbor so the flood
// engine does not bounce the update straight back.
func (h *Handler) handleAT(line, sourceTag string) {
	rec, err := wire.ParseAT(line)
	if err != nil {
		h.logger.Debug("malformed AT from peer, dropping", "error", err)
		return
	}
	if _, err := h.engine.Apply(rec, sourceTag); err != nil {
		h.logger.Warn("store apply failed", "error", err)
	}
}
