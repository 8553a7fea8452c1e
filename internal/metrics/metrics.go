// Package metrics is the observability side channel the gateway records
// into. The deployment wires the real sink; the in-process Registry is
// the default and also serves the health endpoint.
package metrics

import (
	"sync"
	"time"
)

type Sink interface {
	CounterAdd(name string, delta int64)
	GaugeAdd(name string, delta int64)
	// Timer records one observed duration for the named operation.
	Timer(name string, d time.Duration)
}

type timerStat struct {
	Count int64
	Total time.Duration
}

type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]int64
	timers   map[string]timerStat
}

func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]int64{},
		gauges:   map[string]int64{},
		timers:   map[string]timerStat{},
	}
}

func (r *Registry) CounterAdd(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

func (r *Registry) GaugeAdd(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] += delta
}

func (r *Registry) Timer(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stat := r.timers[name]
	stat.Count++
	stat.Total += d
	r.timers[name] = stat
}

func (r *Registry) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func (r *Registry) Gauge(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name]
}

// TimerCount returns how many durations were recorded for name.
func (r *Registry) TimerCount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers[name].Count
}

// Snapshot copies the current gauge values, for the health endpoint.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.gauges))
	for k, v := range r.gauges {
		out[k] = v
	}
	return out
}
