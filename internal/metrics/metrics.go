// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "insteonbridge"

// latencyBuckets cover modem round trips up to the command TTL.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Bridge implements insteon.Metrics with Prometheus collectors.
type Bridge struct {
	submitted    *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	finalized    *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	observations *prometheus.CounterVec
}

// NewBridge creates the bridge collectors and registers them with reg.
func NewBridge(reg prometheus.Registerer) (*Bridge, error) {
	m := &Bridge{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_submitted_total",
				Help:      "Commands accepted and sent to an interface, by command label",
			},
			[]string{"command"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_rejected_total",
				Help:      "Commands rejected before sending, by reason",
			},
			[]string{"reason"},
		),
		finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_finalized_total",
				Help:      "Commands that reached a terminal state, by state",
			},
			[]string{"state"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_latency_seconds",
				Help:      "Time from submission to terminal state",
				Buckets:   latencyBuckets,
			},
			[]string{"state"},
		),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_total",
				Help:      "Status observations by reconciliation result",
			},
			[]string{"result"},
		),
	}

	for _, c := range []prometheus.Collector{m.submitted, m.rejected, m.finalized, m.latency, m.observations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CommandSubmitted counts an accepted command.
func (m *Bridge) CommandSubmitted(label string) {
	m.submitted.WithLabelValues(label).Inc()
}

// CommandRejected counts a rejected command.
func (m *Bridge) CommandRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// CommandFinalized counts a terminal transition and observes its latency.
func (m *Bridge) CommandFinalized(state string, latency time.Duration) {
	m.finalized.WithLabelValues(state).Inc()
	m.latency.WithLabelValues(state).Observe(latency.Seconds())
}

// ObservationReconciled counts a status observation.
func (m *Bridge) ObservationReconciled(result string) {
	m.observations.WithLabelValues(result).Inc()
}

// GaugeSource supplies values for gauges sampled at scrape time.
type GaugeSource interface {
	PendingCommands() int
}

// RegisterGauges adds gauges that read the bridge at scrape time.
// deviceCount is optional.
func RegisterGauges(reg prometheus.Registerer, src GaugeSource, deviceCount func() int) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "commands_pending",
				Help:      "Commands waiting for confirmation",
			},
			func() float64 { return float64(src.PendingCommands()) },
		),
	}
	if deviceCount != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices",
				Help:      "Devices in the registry",
			},
			func() float64 { return float64(deviceCount()) },
		))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// InterfaceSource lists interfaces for the health gauges.
type InterfaceSource interface {
	InterfaceHealth() map[string]InterfaceState
}

// InterfaceState is one interface as seen at scrape time.
type InterfaceState struct {
	Healthy bool
	Active  bool
}

// interfaceCollector exports per-interface health and selection.
type interfaceCollector struct {
	src     InterfaceSource
	healthy *prometheus.Desc
	active  *prometheus.Desc
}

// RegisterInterfaces exports insteonbridge_interface_healthy and
// insteonbridge_interface_active, one series per interface.
func RegisterInterfaces(reg prometheus.Registerer, src InterfaceSource) error {
	return reg.Register(&interfaceCollector{
		src: src,
		healthy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "interface", "healthy"),
			"1 if the interface reports itself healthy",
			[]string{"interface"}, nil,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "interface", "active"),
			"1 for the interface commands are sent through",
			[]string{"interface"}, nil,
		),
	})
}

func (c *interfaceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.active
}

func (c *interfaceCollector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.src.InterfaceHealth() {
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolValue(st.Healthy), name)
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, boolValue(st.Active), name)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
