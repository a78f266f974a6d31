// Package metrics keeps in-process counters of listener lifecycle events and
// the last reported health of every listener.
package metrics

import (
	"sort"
	"sync"

	"github.com/soochol/inflow/internal/inbound"
)

// Counter is one (category, action, type) count.
type Counter struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	Type     string `json:"type"`
	Count    int64  `json:"count"`
}

type counterKey struct {
	category, action, typ string
}

// HealthEntry is the last health reported for a listener.
type HealthEntry struct {
	Listener string         `json:"listener"`
	Health   inbound.Health `json:"health"`
}

// Snapshot is a point-in-time copy of the recorder.
type Snapshot struct {
	Counters []Counter     `json:"counters"`
	Health   []HealthEntry `json:"health"`
}

// Recorder implements ports.MetricsSink and ports.HealthSink. Both calls
// take a short mutex and never block on I/O.
type Recorder struct {
	mu       sync.Mutex
	counters map[counterKey]int64
	health   map[inbound.ListenerKey]inbound.Health
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[counterKey]int64),
		health:   make(map[inbound.ListenerKey]inbound.Health),
	}
}

func (r *Recorder) Increment(category, action, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterKey{category, action, typ}]++
}

func (r *Recorder) ReportHealth(key inbound.ListenerKey, h inbound.Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[key] = h
}

// Count returns a single counter value.
func (r *Recorder) Count(category, action, typ string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[counterKey{category, action, typ}]
}

// Snapshot returns all counters and health entries, sorted.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters: make([]Counter, 0, len(r.counters)),
		Health:   make([]HealthEntry, 0, len(r.health)),
	}
	for k, n := range r.counters {
		snap.Counters = append(snap.Counters, Counter{Category: k.category, Action: k.action, Type: k.typ, Count: n})
	}
	for k, h := range r.health {
		snap.Health = append(snap.Health, HealthEntry{Listener: k.String(), Health: h})
	}

	sort.Slice(snap.Counters, func(i, j int) bool {
		a, b := snap.Counters[i], snap.Counters[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Type < b.Type
	})
	sort.Slice(snap.Health, func(i, j int) bool {
		return snap.Health[i].Listener < snap.Health[j].Listener
	})
	return snap
}
