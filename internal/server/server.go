package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"linkmon/internal/cluster"
	"linkmon/internal/history"
	"linkmon/internal/metrics"
	"linkmon/internal/models"
	"linkmon/internal/track"
)

// Server exposes the observer's aggregate state: the link state table, peer
// snapshots, and the merged outage history. It also accepts the clear
// command.
type Server struct {
	httpServer     *http.Server
	node           string
	table          *track.Table
	history        *history.Log
	clusterService *cluster.Service
}

// New creates a configured HTTP server for the observer.
func New(addr, node string, table *track.Table, hist *history.Log, clusterService *cluster.Service) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer:     &http.Server{Addr: addr, Handler: mux},
		node:           node,
		table:          table,
		history:        hist,
		clusterService: clusterService,
	}
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/clear_history", s.handleClear)
	mux.HandleFunc("/healthz", handleHealthz)
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleData(w http.ResponseWriter, _ *http.Request) {
	records := s.history.Records()
	resp := cluster.SnapshotResponse{
		Node:         s.node,
		GeneratedAt:  time.Now().UTC(),
		Links:        linkView(s.table.States()),
		History:      records,
		Availability: metrics.ComputeLinkAvailability(records),
	}
	if s.clusterService != nil {
		resp.Peers = s.clusterService.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.clusterService.ClearAll())
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// linkView regroups the flat link table into target -> protocol -> state,
// the shape both status documents share.
func linkView(states map[models.Link]models.LinkState) map[string]map[string]models.LinkState {
	out := make(map[string]map[string]models.LinkState)
	for link, st := range states {
		byProto := out[link.Target]
		if byProto == nil {
			byProto = make(map[string]models.LinkState, 3)
			out[link.Target] = byProto
		}
		byProto[link.Protocol.Key()] = st
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
