package unsutil

import (
	"testing"
	"time"
)

func TestPaceTrackerFailsOnceRateExceeded(t *testing.T) {
	p := NewPaceTracker(3, time.Hour)
	if err := p.Tick(); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := p.Tick(); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if err := p.Tick(); err == nil {
		t.Fatal("third tick within the window should have failed")
	}
}

func TestPaceTrackerAllowsTicksAfterPeriodElapses(t *testing.T) {
	p := NewPaceTracker(1, time.Millisecond)
	if err := p.Tick(); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := p.Tick(); err != nil {
		t.Fatalf("tick after the period elapsed should succeed: %v", err)
	}
}

func TestReporterTracksStateTransitions(t *testing.T) {
	r := NewReporter("ingress")
	if r.Get() != Offline {
		t.Fatalf("initial state = %v, want Offline", r.Get())
	}

	var seen []State
	r.OnChange(func(s State) { seen = append(seen, s) })

	r.Set(Starting)
	r.Set(Online)

	if r.Get() != Online {
		t.Fatalf("state = %v, want Online", r.Get())
	}
	if len(seen) != 2 || seen[0] != Starting || seen[1] != Online {
		t.Fatalf("OnChange callbacks = %v, want [Starting Online]", seen)
	}
}

func TestRegistryReadyOnlyWhenEveryReporterIsOnline(t *testing.T) {
	reg := NewRegistry()
	a := NewReporter("a")
	b := NewReporter("b")
	reg.Register(a)
	reg.Register(b)

	if reg.Ready() {
		t.Fatal("registry should not be ready before any reporter goes online")
	}

	a.Set(Online)
	if reg.Ready() {
		t.Fatal("registry should not be ready while b is still offline")
	}

	b.Set(Online)
	if !reg.Ready() {
		t.Fatal("registry should be ready once every reporter is online")
	}

	snap := reg.Snapshot()
	if snap["a"] != Online || snap["b"] != Online {
		t.Fatalf("Snapshot = %v, want both online", snap)
	}
}
