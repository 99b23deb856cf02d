package efficientad

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	MetricStudent     = "train_st"
	MetricAutoencoder = "train_ae"
	MetricCombined    = "train_stae"
	MetricTotal       = "train_loss"
)

// MetricLogger receives named scalar metrics.
type MetricLogger interface {
	Log(name string, value float64)
}

// LogrusMetrics logs every value at debug level and keeps running means that
// the trainer reports and resets once per epoch.
type LogrusMetrics struct {
	log *logrus.Entry

	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int
}

func NewLogrusMetrics(log *logrus.Entry) *LogrusMetrics {
	return &LogrusMetrics{
		log:    componentLogger(log, "metrics"),
		sums:   map[string]float64{},
		counts: map[string]int{},
	}
}

func (m *LogrusMetrics) Log(name string, value float64) {
	m.mu.Lock()
	m.sums[name] += value
	m.counts[name]++
	m.mu.Unlock()
	m.log.WithField(name, value).Debug("metric")
}

// Means returns the mean of every metric logged since the last Reset.
func (m *LogrusMetrics) Means() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.sums))
	for name, sum := range m.sums {
		out[name] = sum / float64(m.counts[name])
	}
	return out
}

// Flush logs the epoch means at info level and clears them.
func (m *LogrusMetrics) Flush(epoch int) map[string]float64 {
	means := m.Means()
	fields := logrus.Fields{"epoch": epoch}
	names := make([]string, 0, len(means))
	for name := range means {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields[name] = means[name]
	}
	m.log.WithFields(fields).Info("epoch metrics")
	m.Reset()
	return means
}

func (m *LogrusMetrics) Reset() {
	m.mu.Lock()
	m.sums = map[string]float64{}
	m.counts = map[string]int{}
	m.mu.Unlock()
}
