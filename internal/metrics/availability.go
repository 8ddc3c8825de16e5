package metrics

import (
	"math"
	"sort"
	"time"

	"linkmon/internal/models"
)

// LinkAvailability summarises outage impact for one link and protocol,
// derived from the merged outage history. It is display data only and never
// feeds back into the history.
type LinkAvailability struct {
	Name        string          `json:"name"`
	Protocol    models.Protocol `json:"protocol"`
	Outages     int             `json:"outages"`
	DowntimeSec float64         `json:"downtime_sec"`
	LongestSec  float64         `json:"longest_sec"`
	LastEnd     string          `json:"last_end,omitempty"`
}

// ComputeLinkAvailability aggregates outage statistics per (name, protocol)
// from history records.
func ComputeLinkAvailability(records []models.OutageRecord) []LinkAvailability {
	type key struct {
		name     string
		protocol models.Protocol
	}
	type acc struct {
		outages  int
		downtime float64
		longest  float64
		lastEnd  time.Time
	}

	state := make(map[key]*acc)
	for _, rec := range records {
		k := key{name: rec.Name, protocol: rec.Protocol}
		a := state[k]
		if a == nil {
			a = &acc{}
			state[k] = a
		}
		a.outages++
		a.downtime += rec.DurationSec
		if rec.DurationSec > a.longest {
			a.longest = rec.DurationSec
		}
		if rec.EndTime != nil && rec.EndTime.After(a.lastEnd) {
			a.lastEnd = *rec.EndTime
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]key, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].protocol < keys[j].protocol
	})

	results := make([]LinkAvailability, 0, len(keys))
	for _, k := range keys {
		a := state[k]
		result := LinkAvailability{
			Name:        k.name,
			Protocol:    k.protocol,
			Outages:     a.outages,
			DowntimeSec: round2(a.downtime),
			LongestSec:  round2(a.longest),
		}
		if !a.lastEnd.IsZero() {
			result.LastEnd = a.lastEnd.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
