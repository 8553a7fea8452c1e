package metrics

import (
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry()
	r.CounterAdd("event_count", 1)
	r.CounterAdd("event_count", 2)
	if got := r.Counter("event_count"); got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}

	r.GaugeAdd("sync_connections", 1)
	r.GaugeAdd("sync_connections", 1)
	r.GaugeAdd("sync_connections", -1)
	if got := r.Gauge("sync_connections"); got != 1 {
		t.Errorf("gauge = %d, want 1", got)
	}
}

func TestTimer(t *testing.T) {
	r := NewRegistry()
	r.Timer("join-space", 5*time.Millisecond)
	r.Timer("join-space", 7*time.Millisecond)
	if got := r.TimerCount("join-space"); got != 2 {
		t.Errorf("timer count = %d, want 2", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.GaugeAdd("sync_connections", 2)
	snap := r.Snapshot()
	snap["sync_connections"] = 99
	if got := r.Gauge("sync_connections"); got != 2 {
		t.Errorf("mutating snapshot leaked into registry: %d", got)
	}
}
