package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"linkmon/internal/history"
	"linkmon/internal/models"
)

const (
	clearTimeout     = 2 * time.Second
	clearConcurrency = 4
)

// Service reconciles remote peers into the local merged timeline. Each cycle
// it pulls every peer's status table (display only) and its outage history
// (merged, deduplicated, cutoff-filtered). It also coordinates the clear
// command, fanning it out to all peers best-effort.
type Service struct {
	node    string
	peers   []Peer
	refresh time.Duration
	history *history.Log

	client *http.Client

	mu        sync.RWMutex
	peersData map[string]PeerSnapshot

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService initialises the reconciler. requestTimeout bounds each fetch;
// refresh is the per-peer cycle interval.
func NewService(node string, peers []Peer, refresh, requestTimeout time.Duration, hist *history.Log) *Service {
	if refresh <= 0 {
		refresh = time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   requestTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    20,
		IdleConnTimeout: 90 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		node:      node,
		peers:     peers,
		refresh:   refresh,
		history:   hist,
		client:    &http.Client{Transport: transport, Timeout: requestTimeout},
		peersData: make(map[string]PeerSnapshot),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches background reconciliation with peers.
func (s *Service) Start() {
	go s.run()
}

// Stop terminates background reconciliation.
func (s *Service) Stop() {
	s.cancel()
}

func (s *Service) run() {
	s.fetchAllPeers()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fetchAllPeers()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) fetchAllPeers() {
	for _, peer := range s.peers {
		s.fetchPeer(peer)
		if s.ctx.Err() != nil {
			return
		}
	}
}

// fetchPeer runs the two independent fetches of one reconciliation cycle.
// A status failure leaves a placeholder snapshot; a history failure leaves
// the merged timeline exactly as it was.
func (s *Service) fetchPeer(peer Peer) {
	baseURL := strings.TrimSuffix(peer.BaseURL, "/")

	statusURL := baseURL + "/status"
	var status AgentStatusResponse
	if err := s.getJSON(statusURL, &status); err != nil {
		s.mu.Lock()
		s.peersData[peer.Name] = PeerSnapshot{
			UpdatedAt: time.Now().UTC(),
			Error:     err.Error(),
			URL:       statusURL,
		}
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.peersData[peer.Name] = PeerSnapshot{
			Status:    &status,
			UpdatedAt: time.Now().UTC(),
		}
		s.mu.Unlock()
	}

	var remote []models.OutageRecord
	if err := s.getJSON(baseURL+"/history", &remote); err != nil {
		return
	}
	if added := s.history.Merge(remote); added > 0 {
		log.Printf("[POLL] merged %d outage record(s) from %s", added, peer.Name)
	}
}

// Snapshot returns a copy of the last known peer status tables.
func (s *Service) Snapshot() map[string]PeerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PeerSnapshot, len(s.peersData))
	for name, snap := range s.peersData {
		out[name] = snap
	}
	return out
}

// ClearAll performs the clear command: it moves the cutoff, empties the
// local merged timeline, and returns immediately. Peer fan-out runs in the
// background, best-effort, and is never surfaced back to the caller.
func (s *Service) ClearAll() ClearResult {
	id := uuid.NewString()
	now := time.Now().UTC()
	s.history.Clear(now)
	log.Printf("[CLEAR %s] local history cleared, cutoff %s", id, now.Format(time.RFC3339))

	go s.fanoutClear(id)
	return ClearResult{ID: id, ClearedAt: now}
}

func (s *Service) fanoutClear(id string) {
	g := &errgroup.Group{}
	g.SetLimit(clearConcurrency)

	for _, peer := range s.peers {
		peer := peer
		g.Go(func() error {
			if err := s.postClear(peer); err != nil {
				log.Printf("[CLEAR %s] peer failed: %s -> %v", id, peer.Name, err)
			} else {
				log.Printf("[CLEAR %s] peer ok: %s", id, peer.Name)
			}
			return nil
		})
	}

	_ = g.Wait()
	log.Printf("[CLEAR %s] fan-out complete (%d peer(s))", id, len(s.peers))
}

func (s *Service) postClear(peer Peer) error {
	url := strings.TrimSuffix(peer.BaseURL, "/") + "/admin/clear_history"
	ctx, cancel := context.WithTimeout(s.ctx, clearTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) getJSON(url string, dest any) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
