package telemetry

import "testing"

func TestCostMeterAccumulatesByTag(t *testing.T) {
	m := NewCostMeter()
	m.Record("Bracha", 100)
	m.Record("Bracha", 50)
	m.Record("Mo14", 10)

	s := m.Snapshot()
	if s.ByTagBytes["Bracha"] != 150 {
		t.Fatalf("got %d, want 150", s.ByTagBytes["Bracha"])
	}
	if s.ByTagMessages["Bracha"] != 2 {
		t.Fatalf("got %d, want 2", s.ByTagMessages["Bracha"])
	}
	if s.TotalBytes != 160 || s.TotalMessages != 3 {
		t.Fatalf("got bytes=%d messages=%d", s.TotalBytes, s.TotalMessages)
	}
}

func TestCostMeterResetClears(t *testing.T) {
	m := NewCostMeter()
	m.Record("Cons", 10)
	m.Reset()
	s := m.Snapshot()
	if s.TotalBytes != 0 || s.TotalMessages != 0 {
		t.Fatalf("expected empty snapshot after reset, got %+v", s)
	}
}
