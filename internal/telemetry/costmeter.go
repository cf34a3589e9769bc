package telemetry

import "sync"

// CostMeter accumulates per-wire-tag byte and message counters for one
// consensus round; it does not log by itself (Logger.LogRoundSnapshot logs
// and resets a meter when called). Grounded on
// the original `kc1212/checo` Node's per-message-type counters consumed by
// its analysis.py (SUPPLEMENTED FEATURES §1 in SPEC_FULL.md).
type CostMeter struct {
	mu    sync.Mutex
	bytes map[string]uint64
	count map[string]uint64
}

func NewCostMeter() *CostMeter {
	return &CostMeter{
		bytes: make(map[string]uint64),
		count: make(map[string]uint64),
	}
}

// Record tallies one outbound or inbound message of the given wire tag.
func (m *CostMeter) Record(tag string, payloadBytes int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[tag] += uint64(payloadBytes)
	m.count[tag]++
}

// Snapshot returns the accumulated totals and does not reset them.
type Snapshot struct {
	TotalBytes    uint64
	TotalMessages uint64
	ByTagBytes    map[string]uint64
	ByTagMessages map[string]uint64
}

func (m *CostMeter) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ByTagBytes:    make(map[string]uint64, len(m.bytes)),
		ByTagMessages: make(map[string]uint64, len(m.count)),
	}
	for k, v := range m.bytes {
		s.ByTagBytes[k] = v
		s.TotalBytes += v
	}
	for k, v := range m.count {
		s.ByTagMessages[k] = v
		s.TotalMessages += v
	}
	return s
}

// Reset clears all counters; LogRoundSnapshot calls it after logging.
func (m *CostMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes = make(map[string]uint64)
	m.count = make(map[string]uint64)
}

// LogRoundSnapshot emits the spec §7 per-round communication-cost line and
// resets the counters for the next round.
func (l *Logger) LogRoundSnapshot(round uint64, m *CostMeter) {
	s := m.Snapshot()
	l.Info("round cost snapshot: round=%d messages=%d bytes=%d", round, s.TotalMessages, s.TotalBytes)
	m.Reset()
}
