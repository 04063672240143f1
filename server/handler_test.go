package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/geoherd/herd/config"
	"github.com/geoherd/herd/flood"
	"github.com/geoherd/herd/metrics"
	"github.com/geoherd/herd/places"
	"github.com/geoherd/herd/store"
)

type fakePeers struct {
	neighbors []string
	calls     []string
}

// Broadcast mirrors peer.Manager.Broadcast: one send per neighbor other
// than except.
func (f *fakePeers) Broadcast(line, except string) {
	for _, n := range f.neighbors {
		if n != except {
			f.calls = append(f.calls, line)
		}
	}
}

func newTestHandler(t *testing.T, placesURL string) (net.Conn, *fakePeers) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	view := &config.View{
		Name:           "Clark",
		Neighbors:      []string{"Bailey"},
		WhatsatTimeout: time.Second,
	}
	s, err := store.New()
	require.NoError(t, err)
	fp := &fakePeers{neighbors: view.Neighbors}
	m := metrics.New(view.Name)
	engine := flood.New(s, fp, m, hclog.NewNullLogger())
	pc := places.New(placesURL, "test-key")

	h := NewHandler(serverConn, view, engine, pc, m, hclog.NewNullLogger())
	go h.Serve(context.Background())

	return clientConn, fp
}

func TestHandlerIAMATReply(t *testing.T) {
	conn, _ := newTestHandler(t, "")
	defer conn.Close()

	_, err := conn.Write([]byte("IAMAT kiwi +34.068930-118.445127 1621464827.959498503\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	re := regexp.MustCompile(`^AT Clark [+-]\d+\.\d{9} kiwi \+34\.068930-118\.445127 1621464827\.959498503\n$`)
	require.Regexp(t, re, reply)
}

func TestHandlerInvalidCommandKeepsConnectionOpen(t *testing.T) {
	conn, _ := newTestHandler(t, "")
	defer conn.Close()

	_, err := conn.Write([]byte("FOO bar baz\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "? FOO bar baz\n", reply)

	_, err = conn.Write([]byte("IAMAT kiwi +34.068930-118.445127 1621464827.959498503\n"))
	require.NoError(t, err)
	reply, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, reply, "AT Clark ")
}

func TestHandlerWHATSATUnknownClient(t *testing.T) {
	conn, _ := newTestHandler(t, "")
	defer conn.Close()

	_, err := conn.Write([]byte("WHATSAT ghost 10 5\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "? WHATSAT ghost 10 5\n", reply)
}

func TestHandlerWHATSATSuccessThenFailureFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"name":"Pizza"}]}` + "\n\n\n"))
	}))
	defer srv.Close()

	conn, _ := newTestHandler(t, srv.URL)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err := conn.Write([]byte("IAMAT kiwi +34.068930-118.445127 1621464827.959498503\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	_, err = conn.Write([]byte("WHATSAT kiwi 10 5\n"))
	require.NoError(t, err)

	line1, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line1, "AT Clark ")

	line2, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line2, `"results"`)

	blank, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "\n", blank)
}

func TestHandlerPeerHelloSetsSourceTag(t *testing.T) {
	conn, fp := newTestHandler(t, "")
	defer conn.Close()

	_, err := conn.Write([]byte("HELLO Bailey\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("AT Bailey +0.000000000 kiwi +34.068930-118.445127 1000\n"))
	require.NoError(t, err)

	// AT has no reply; give the handler goroutine a moment to process it.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fp.calls, "the only neighbor is Bailey, which is the arrival link, so nothing re-floods")
}
