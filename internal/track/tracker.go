package track

import (
	"log"
	"sync"
	"time"

	"linkmon/internal/models"
)

// OutageSink receives the closed-outage event emitted on an error→connected
// edge. The local history log implements it.
type OutageSink interface {
	RecordOutage(link models.Link, start, end time.Time)
}

// Table owns the LinkState of every probed link. It is the single writer of
// link state: probers report outcomes through it and never touch the states
// directly, so edge detection sees every cycle in order.
type Table struct {
	sink OutageSink
	now  func() time.Time

	mu    sync.RWMutex
	links map[models.Link]models.LinkState
}

// NewTable creates an empty state table reporting closed outages to sink.
func NewTable(sink OutageSink) *Table {
	return &Table{
		sink:  sink,
		now:   func() time.Time { return time.Now().UTC() },
		links: make(map[models.Link]models.LinkState),
	}
}

// Register installs the initial unknown state for a link before its first
// probe cycle completes.
func (t *Table) Register(link models.Link) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.links[link]; ok {
		return
	}
	t.links[link] = models.LinkState{Status: models.StatusUnknown, Since: now, LastUpdate: now}
}

// ReportSuccess records a successful probe cycle. Recovering from an error
// emits exactly one closed-outage event carrying the time the error began.
func (t *Table) ReportSuccess(link models.Link) {
	now := t.now()

	t.mu.Lock()
	st := t.links[link]
	recoveredFrom := time.Time{}
	if st.Status == models.StatusError {
		recoveredFrom = st.Since
	}
	if st.Status != models.StatusConnected {
		st.Status = models.StatusConnected
		st.Since = now
		st.LastError = ""
	}
	st.LastUpdate = now
	t.links[link] = st
	t.mu.Unlock()

	if !recoveredFrom.IsZero() && t.sink != nil {
		t.sink.RecordOutage(link, recoveredFrom, now)
	}
}

// ReportFailure records a failed probe cycle. Only the first failure of a
// contiguous error interval moves the state; repeats refresh last_update.
func (t *Table) ReportFailure(link models.Link, cause error) {
	now := t.now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	t.mu.Lock()
	st := t.links[link]
	entered := st.Status != models.StatusError
	if entered {
		st.Status = models.StatusError
		st.Since = now
		st.LastError = msg
	}
	st.LastUpdate = now
	t.links[link] = st
	t.mu.Unlock()

	if entered {
		log.Printf("[%s] %s -> error: %s", link.Protocol, link.Target, msg)
	}
}

// State returns the current state of one link.
func (t *Table) State(link models.Link) (models.LinkState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.links[link]
	return st, ok
}

// States returns a copy of the full state table.
func (t *Table) States() map[models.Link]models.LinkState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[models.Link]models.LinkState, len(t.links))
	for link, st := range t.links {
		out[link] = st
	}
	return out
}
