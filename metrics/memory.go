package metrics

import (
	"sync"

	"github.com/saiset-co/sai-voice-cache/types"
)

// MemoryRecorder accumulates recorded values in process memory. Used in
// tests and as the default when no metrics backend is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	samples map[string][]Sample
}

type Sample struct {
	Value float64
	Unit  string
	Tags  map[string]string
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		samples: make(map[string][]Sample),
	}
}

func (m *MemoryRecorder) Record(name string, value float64, unit string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[name] = append(m.samples[name], Sample{Value: value, Unit: unit, Tags: tags})
}

func (m *MemoryRecorder) Samples(name string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, len(m.samples[name]))
	copy(out, m.samples[name])
	return out
}

// Sum totals every recorded value for a metric name.
func (m *MemoryRecorder) Sum(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := float64(0)
	for _, sample := range m.samples[name] {
		total += sample.Value
	}
	return total
}

var _ types.MetricsRecorder = (*MemoryRecorder)(nil)
