package models

import "time"

// OutageRecord describes one completed connectivity outage. Records are
// immutable once constructed; they are only inserted into or evicted from a
// history.
type OutageRecord struct {
	Name        string     `json:"name"`
	Protocol    Protocol   `json:"protocol"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationSec float64    `json:"duration_sec"`
	Source      Source     `json:"source,omitempty"`
	Reporter    string     `json:"reporter,omitempty"`
}

// OutageKey is the composite identity used to deduplicate records merged
// from multiple vantage points.
type OutageKey struct {
	Name     string
	Protocol Protocol
	Start    string
	End      string
	Source   Source
	Reporter string
}

// Key derives the record's deduplication identity.
func (r OutageRecord) Key() OutageKey {
	k := OutageKey{
		Name:     r.Name,
		Protocol: r.Protocol,
		Source:   r.Source,
		Reporter: r.Reporter,
	}
	if !r.StartTime.IsZero() {
		k.Start = r.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if r.EndTime != nil {
		k.End = r.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return k
}

// EndOrStart returns the timestamp a record is ordered and filtered by: the
// end time when present, otherwise the start time. ok is false when the
// record carries neither.
func (r OutageRecord) EndOrStart() (t time.Time, ok bool) {
	if r.EndTime != nil {
		return *r.EndTime, true
	}
	if !r.StartTime.IsZero() {
		return r.StartTime, true
	}
	return time.Time{}, false
}
