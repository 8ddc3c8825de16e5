package probe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"linkmon/internal/models"
)

func TestHTTPProberCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolHTTP}
	p := NewHTTPProber(link, srv.URL, time.Second)
	defer p.Close()

	require.NoError(t, p.Cycle(context.Background()))
}

func TestHTTPProberFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolHTTP}
	p := NewHTTPProber(link, srv.URL, time.Second)
	defer p.Close()

	err := p.Cycle(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestHTTPProberFailsOnUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolHTTP}
	p := NewHTTPProber(link, srv.URL, 200*time.Millisecond)
	defer p.Close()

	require.Error(t, p.Cycle(context.Background()))
}

// echoListener echoes newline-terminated lines, optionally corrupting them.
func echoListener(t *testing.T, corrupt bool) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					if corrupt {
						line[0] ^= 0xff
					}
					if _, err := conn.Write(line); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln
}

func TestTCPProberEcho(t *testing.T) {
	ln := echoListener(t, false)
	defer ln.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolTCP}
	p := NewTCPProber("bastion", link, ln.Addr().String(), time.Second, time.Second)
	defer p.Close()

	// The connection survives across cycles.
	require.NoError(t, p.Cycle(context.Background()))
	require.NoError(t, p.Cycle(context.Background()))
}

func TestTCPProberEchoMismatch(t *testing.T) {
	ln := echoListener(t, true)
	defer ln.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolTCP}
	p := NewTCPProber("bastion", link, ln.Addr().String(), time.Second, time.Second)
	defer p.Close()

	err := p.Cycle(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "mismatch")

	// The mismatch dropped the connection; a healthy next cycle reconnects.
	require.Nil(t, p.conn)
}

func TestTCPProberFailsOnRefusedThenRecovers(t *testing.T) {
	ln := echoListener(t, false)
	addr := ln.Addr().String()
	ln.Close()

	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolTCP}
	p := NewTCPProber("bastion", link, addr, 200*time.Millisecond, time.Second)
	defer p.Close()

	require.Error(t, p.Cycle(context.Background()))
}

func wsAckServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSProberPingPong(t *testing.T) {
	srv := wsAckServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolWS}
	p := NewWSProber("bastion", link, url, time.Second, time.Second)
	defer p.Close()

	require.NoError(t, p.Cycle(context.Background()))
	require.NoError(t, p.Cycle(context.Background()))
}

func TestWSProberReconnectsAfterDrop(t *testing.T) {
	srv := wsAckServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	link := models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolWS}
	p := NewWSProber("bastion", link, url, time.Second, 500*time.Millisecond)
	defer p.Close()

	require.NoError(t, p.Cycle(context.Background()))

	srv.CloseClientConnections()
	srv.Close()

	// The broken connection surfaces as a failed cycle and is dropped.
	require.Error(t, p.Cycle(context.Background()))
	require.Nil(t, p.conn)

	// With the server gone the next cycle fails at dial.
	require.Error(t, p.Cycle(context.Background()))
}
