package metrics

import "testing"

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestMetricsAreNonNil(t *testing.T) {
	if Metrics.EventsDispatched == nil {
		t.Fatal("EventsDispatched counter not initialized")
	}
	if Metrics.ExportPublished == nil {
		t.Fatal("ExportPublished counter not initialized")
	}
}
