package taskqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes queue-depth gauges scraped by operators running the
// Supervisor as a long-lived process.
type Metrics struct {
	queueDepth *prometheus.GaugeVec
}

// NewMetrics registers the queue-depth gauge against registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "takt",
		Name:      "queue_depth",
		Help:      "Number of task files present in a Task Store directory.",
	}, []string{"dir"})
	if err := registry.Register(gauge); err != nil {
		return nil, err
	}
	return &Metrics{queueDepth: gauge}, nil
}

func (m *Metrics) setDepth(dir string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(dir).Set(float64(n))
}
