package server

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"linkmon/internal/cluster"
	"linkmon/internal/history"
	"linkmon/internal/track"
)

// AgentServer bundles an agent's three listeners: the HTTP API (ping,
// status, history, clear), the websocket acknowledgment server, and the raw
// TCP echo server. Failing to bind any of them is fatal.
type AgentServer struct {
	node    string
	table   *track.Table
	history *history.Log

	httpServer *http.Server
	wsServer   *http.Server
	tcpAddr    string
	upgrader   websocket.Upgrader
}

// NewAgent creates the agent's listeners on the given addresses.
func NewAgent(node string, table *track.Table, hist *history.Log, httpAddr, wsAddr, tcpAddr string) *AgentServer {
	s := &AgentServer{
		node:    node,
		table:   table,
		history: hist,
		tcpAddr: tcpAddr,
		upgrader: websocket.Upgrader{
			// Probe traffic is unauthenticated by design; accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/admin/clear_history", s.handleClear)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", s.handleWS)
	s.wsServer = &http.Server{Addr: wsAddr, Handler: wsMux}

	return s
}

// Run serves all three listeners until ctx is cancelled or a listener fails
// to bind.
func (s *AgentServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.tcpAddr)
	if err != nil {
		return fmt.Errorf("bind tcp echo listener: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ws listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.serveTCP(ctx, ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		_ = s.wsServer.Shutdown(shutdownCtx)
		_ = ln.Close()
		return nil
	})
	return g.Wait()
}

func (s *AgentServer) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"node":   s.node,
		"ts":     time.Now().UTC(),
	})
}

func (s *AgentServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cluster.AgentStatusResponse{
		Self:        s.node,
		Timestamp:   time.Now().UTC(),
		Connections: linkView(s.table.States()),
	})
}

func (s *AgentServer) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.history.Records())
}

func (s *AgentServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	now := time.Now().UTC()
	s.history.Clear(now)
	log.Printf("[CLEAR] local history cleared by remote command")
	writeJSON(w, http.StatusOK, cluster.AgentClearResponse{OK: true, Node: s.node, TS: now})
}

// handleWS accepts a probe connection and discards whatever it sends. The
// protocol-level ping/pong exchange the prober relies on is answered by the
// read loop via the default ping handler.
func (s *AgentServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *AgentServer) serveTCP(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}
		go echoLines(conn)
	}
}

// echoLines writes every newline-terminated line straight back, byte for
// byte. The stream prober validates the echo against what it sent.
func echoLines(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := conn.Write(line); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
