package history

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"linkmon/internal/models"
)

// DefaultMaxRecords bounds a log when no explicit capacity is configured.
const DefaultMaxRecords = 200

// Log is the bounded, deduplicated outage timeline of one node. Locally
// recorded outages and records merged back from peers share the same
// structure; the clear cutoff suppresses stale remote records after a clear.
type Log struct {
	source   models.Source
	reporter string
	max      int

	mu      sync.RWMutex
	records []models.OutageRecord
	cutoff  *time.Time
}

// New creates an empty log. Locally recorded outages are stamped with the
// given source; reporter identifies the agent and stays empty on the observer.
func New(max int, source models.Source, reporter string) *Log {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Log{source: source, reporter: reporter, max: max}
}

// RecordOutage appends one closed outage observed by this node's own probers.
// It satisfies track.OutageSink.
func (l *Log) RecordOutage(link models.Link, start, end time.Time) {
	dur := end.Sub(start).Seconds()
	if dur < 0 {
		dur = 0
	}
	end = end.UTC()
	rec := models.OutageRecord{
		Name:        link.Target,
		Protocol:    link.Protocol,
		StartTime:   start.UTC(),
		EndTime:     &end,
		DurationSec: round2(dur),
		Source:      l.source,
		Reporter:    l.reporter,
	}

	l.mu.Lock()
	l.records = append([]models.OutageRecord{rec}, l.records...)
	l.sortLocked()
	l.trimLocked()
	l.mu.Unlock()

	log.Printf("--- OUTAGE ENDED: %s (%s, %s) %.2fs ---", rec.Name, rec.Protocol, rec.Source, rec.DurationSec)
}

// Merge folds records pulled from a peer into the log and returns how many
// were novel. Remote records default to agent source, are dropped when they
// predate the clear cutoff, and are deduplicated by composite key. A failed
// fetch must simply not call Merge; prior entries are never removed here.
func (l *Log) Merge(remote []models.OutageRecord) int {
	if len(remote) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	known := make(map[models.OutageKey]struct{}, len(l.records))
	for _, rec := range l.records {
		known[rec.Key()] = struct{}{}
	}

	added := 0
	for _, rec := range remote {
		if rec.Source == "" {
			rec.Source = models.SourceAgent
		}
		if l.cutoff != nil {
			if t, ok := rec.EndOrStart(); ok && t.Before(*l.cutoff) {
				continue
			}
		}
		key := rec.Key()
		if _, dup := known[key]; dup {
			continue
		}
		known[key] = struct{}{}
		l.records = append([]models.OutageRecord{rec}, l.records...)
		added++
	}

	if added > 0 {
		l.sortLocked()
		l.trimLocked()
	}
	return added
}

// Records returns a copy of the log, most recent first.
func (l *Log) Records() []models.OutageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.OutageRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len reports the current number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Clear empties the log and moves the cutoff to now, so later merges cannot
// resurrect records that ended before the clear.
func (l *Log) Clear(now time.Time) {
	now = now.UTC()
	l.mu.Lock()
	l.cutoff = &now
	l.records = nil
	l.mu.Unlock()
}

// Cutoff returns the current clear watermark, if one was ever set.
func (l *Log) Cutoff() (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cutoff == nil {
		return time.Time{}, false
	}
	return *l.cutoff, true
}

// sortLocked orders records by end time descending. A record without an end
// time is an outage still open and ranks most recent.
func (l *Log) sortLocked() {
	sort.SliceStable(l.records, func(i, j int) bool {
		ei, ej := l.records[i].EndTime, l.records[j].EndTime
		if ei == nil {
			return ej != nil
		}
		if ej == nil {
			return false
		}
		return ei.After(*ej)
	})
}

func (l *Log) trimLocked() {
	if len(l.records) > l.max {
		l.records = l.records[:l.max]
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
