package cluster

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linkmon/internal/history"
	"linkmon/internal/models"
)

func ts(sec int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func closedRecord(name string, start, end time.Time, reporter string) models.OutageRecord {
	e := end
	return models.OutageRecord{
		Name:        name,
		Protocol:    models.ProtocolTCP,
		StartTime:   start,
		EndTime:     &e,
		DurationSec: end.Sub(start).Seconds(),
		Source:      models.SourceAgent,
		Reporter:    reporter,
	}
}

// fakeAgent serves the peer side of the reconciliation protocol.
type fakeAgent struct {
	srv *httptest.Server

	statusCode  atomic.Int32
	historyCode atomic.Int32
	records     atomic.Pointer[[]models.OutageRecord]
	clears      chan struct{}
}

func newFakeAgent(t *testing.T, name string) *fakeAgent {
	t.Helper()
	a := &fakeAgent{clears: make(chan struct{}, 8)}
	a.statusCode.Store(http.StatusOK)
	a.historyCode.Store(http.StatusOK)
	a.records.Store(&[]models.OutageRecord{})

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		if code := int(a.statusCode.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_ = json.NewEncoder(w).Encode(AgentStatusResponse{
			Self:      name,
			Timestamp: time.Now().UTC(),
			Connections: map[string]map[string]models.LinkState{
				"peer-2": {"tcp": {Status: models.StatusConnected}},
			},
		})
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, _ *http.Request) {
		if code := int(a.historyCode.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_ = json.NewEncoder(w).Encode(*a.records.Load())
	})
	mux.HandleFunc("/admin/clear_history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a.clears <- struct{}{}
		_ = json.NewEncoder(w).Encode(AgentClearResponse{OK: true, Node: name, TS: time.Now().UTC()})
	})
	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAgent) peer(name string) Peer {
	return Peer{Name: name, BaseURL: a.srv.URL}
}

func TestFetchPeerMergesHistory(t *testing.T) {
	agent := newFakeAgent(t, "pod-a")
	records := []models.OutageRecord{closedRecord("peer-2", ts(0), ts(3), "pod-a")}
	agent.records.Store(&records)

	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{agent.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	svc.fetchPeer(agent.peer("pod-a"))
	require.Equal(t, 1, hist.Len())

	snap := svc.Snapshot()["pod-a"]
	require.Empty(t, snap.Error)
	require.NotNil(t, snap.Status)
	require.Equal(t, "pod-a", snap.Status.Self)

	// The same payload on the next cycle is a no-op.
	svc.fetchPeer(agent.peer("pod-a"))
	require.Equal(t, 1, hist.Len())
}

func TestFetchPeerStatusFailureStoresPlaceholder(t *testing.T) {
	agent := newFakeAgent(t, "pod-a")
	records := []models.OutageRecord{closedRecord("peer-2", ts(0), ts(3), "pod-a")}
	agent.records.Store(&records)
	agent.statusCode.Store(http.StatusBadGateway)

	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{agent.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	svc.fetchPeer(agent.peer("pod-a"))

	snap := svc.Snapshot()["pod-a"]
	require.NotEmpty(t, snap.Error)
	require.Nil(t, snap.Status)
	require.NotEmpty(t, snap.URL)

	// The snapshot fetch and the history fetch are independent: history
	// still merges.
	require.Equal(t, 1, hist.Len())
}

func TestFetchPeerHistoryFailureLeavesLocalUntouched(t *testing.T) {
	agent := newFakeAgent(t, "pod-a")
	records := []models.OutageRecord{closedRecord("peer-2", ts(0), ts(3), "pod-a")}
	agent.records.Store(&records)

	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{agent.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	svc.fetchPeer(agent.peer("pod-a"))
	require.Equal(t, 1, hist.Len())

	agent.historyCode.Store(http.StatusInternalServerError)
	svc.fetchPeer(agent.peer("pod-a"))
	require.Equal(t, 1, hist.Len())
}

func TestPeerFailuresAreIsolated(t *testing.T) {
	healthy := newFakeAgent(t, "pod-a")
	records := []models.OutageRecord{closedRecord("peer-2", ts(0), ts(3), "pod-a")}
	healthy.records.Store(&records)

	dead := Peer{Name: "pod-b", BaseURL: "http://127.0.0.1:1"}

	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{dead, healthy.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	svc.fetchAllPeers()

	require.Equal(t, 1, hist.Len())
	require.NotEmpty(t, svc.Snapshot()["pod-b"].Error)
	require.Empty(t, svc.Snapshot()["pod-a"].Error)
}

func TestClearAllFansOutToPeers(t *testing.T) {
	agentA := newFakeAgent(t, "pod-a")
	agentB := newFakeAgent(t, "pod-b")

	hist := history.New(10, models.SourceObserver, "")
	hist.RecordOutage(models.Link{Source: "bastion", Target: "peer-1", Protocol: models.ProtocolWS}, ts(0), ts(2))

	svc := NewService("bastion", []Peer{agentA.peer("pod-a"), agentB.peer("pod-b")}, time.Second, time.Second, hist)
	defer svc.Stop()

	res := svc.ClearAll()
	require.NotEmpty(t, res.ID)
	require.False(t, res.ClearedAt.IsZero())

	// Local effects are synchronous.
	require.Equal(t, 0, hist.Len())
	cutoff, ok := hist.Cutoff()
	require.True(t, ok)
	require.Equal(t, res.ClearedAt, cutoff)

	// Fan-out is best-effort and asynchronous, but does reach every peer.
	for _, agent := range []*fakeAgent{agentA, agentB} {
		select {
		case <-agent.clears:
		case <-time.After(2 * time.Second):
			t.Fatal("peer did not receive clear command")
		}
	}
}

func TestClearAllSurvivesUnreachablePeer(t *testing.T) {
	agent := newFakeAgent(t, "pod-a")
	dead := Peer{Name: "pod-b", BaseURL: "http://127.0.0.1:1"}

	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{dead, agent.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	svc.ClearAll()
	select {
	case <-agent.clears:
	case <-time.After(2 * time.Second):
		t.Fatal("reachable peer did not receive clear command")
	}
}

func TestMergedRecordBeforeCutoffNeverAppears(t *testing.T) {
	agent := newFakeAgent(t, "pod-a")
	hist := history.New(10, models.SourceObserver, "")
	svc := NewService("bastion", []Peer{agent.peer("pod-a")}, time.Second, time.Second, hist)
	defer svc.Stop()

	res := svc.ClearAll()

	stale := closedRecord("peer-2", res.ClearedAt.Add(-10*time.Second), res.ClearedAt.Add(-time.Second), "pod-a")
	records := []models.OutageRecord{stale}
	agent.records.Store(&records)

	svc.fetchPeer(agent.peer("pod-a"))
	require.Equal(t, 0, hist.Len())
}
