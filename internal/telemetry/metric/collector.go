package metric

import "github.com/prometheus/client_golang/prometheus"

// SessionState is the session view read at scrape time.
type SessionState struct {
	Authenticated bool
	Offline       bool
	TTLSeconds    float64
}

// SessionCollector reports the device session without the session having
// to push updates.
type SessionCollector struct {
	state func() SessionState

	authenticated *prometheus.Desc
	ttl           *prometheus.Desc
}

// NewSessionCollector creates a collector that calls state on every scrape.
func NewSessionCollector(state func() SessionState) *SessionCollector {
	return &SessionCollector{
		state: state,
		authenticated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "authenticated"),
			"1 if a farmer session is active, by session mode",
			[]string{"mode"}, nil,
		),
		ttl: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "ttl_seconds"),
			"Remaining validity of the active session",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.authenticated
	ch <- c.ttl
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.state()

	online, offline := 0.0, 0.0
	if s.Authenticated {
		if s.Offline {
			offline = 1
		} else {
			online = 1
		}
	}
	ch <- prometheus.MustNewConstMetric(c.authenticated, prometheus.GaugeValue, online, "online")
	ch <- prometheus.MustNewConstMetric(c.authenticated, prometheus.GaugeValue, offline, "offline")
	ch <- prometheus.MustNewConstMetric(c.ttl, prometheus.GaugeValue, s.TTLSeconds)
}
