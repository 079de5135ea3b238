package obs

import (
	"execcore/pkg/exception"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "execcore"

var (
	descRejections = prometheus.NewDesc(namespace+"_rejections_total",
		"Order proposals rejected, by kind.", []string{"kind"}, nil)
	descTransitions = prometheus.NewDesc(namespace+"_session_transitions_total",
		"Session state entries, by target state.", []string{"state"}, nil)
	descOrders = prometheus.NewDesc(namespace+"_orders_total",
		"Orders sent to the counterparty.", nil, nil)
	descClamps = prometheus.NewDesc(namespace+"_orders_clamped_total",
		"Orders sent with a clamped quantity.", nil, nil)
	descReconnects = prometheus.NewDesc(namespace+"_reconnects_total",
		"Session reconnect attempts.", nil, nil)
	descEventDrops = prometheus.NewDesc(namespace+"_session_event_drops",
		"Session events dropped on a full queue.", nil, nil)
	descVenueErrors = prometheus.NewDesc(namespace+"_venue_errors_total",
		"Venue adapter submissions that failed.", nil, nil)
	descTickSeconds = prometheus.NewDesc(namespace+"_tick_seconds",
		"Orchestrator tick latency.", []string{"stat"}, nil)
	descDispatchSeconds = prometheus.NewDesc(namespace+"_dispatch_seconds",
		"Signal to send latency.", []string{"stat"}, nil)
)

var _ prometheus.Collector = (*Metrics)(nil)

// StateNames labels session transitions; index is the session state value.
var StateNames = [sessionStates]string{"Created", "LogonSent", "Active", "LogoutSent", "Terminated"}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRejections
	ch <- descTransitions
	ch <- descOrders
	ch <- descClamps
	ch <- descReconnects
	ch <- descEventDrops
	ch <- descVenueErrors
	ch <- descTickSeconds
	ch <- descDispatchSeconds
}

// Collect implements prometheus.Collector from a Snapshot.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snap := m.Snapshot()
	for k := range exception.KindCount {
		kind := exception.Kind(k)
		ch <- prometheus.MustNewConstMetric(descRejections, prometheus.CounterValue, float64(snap.Rejections[kind]), kind.String())
	}
	for i, name := range StateNames {
		ch <- prometheus.MustNewConstMetric(descTransitions, prometheus.CounterValue, float64(snap.Transitions[uint8(i)]), name)
	}
	ch <- prometheus.MustNewConstMetric(descOrders, prometheus.CounterValue, float64(snap.Orders))
	ch <- prometheus.MustNewConstMetric(descClamps, prometheus.CounterValue, float64(snap.Clamps))
	ch <- prometheus.MustNewConstMetric(descReconnects, prometheus.CounterValue, float64(snap.Reconnects))
	ch <- prometheus.MustNewConstMetric(descEventDrops, prometheus.GaugeValue, float64(snap.EventDrops))
	ch <- prometheus.MustNewConstMetric(descVenueErrors, prometheus.CounterValue, float64(snap.VenueErrors))
	collectLatency(ch, descTickSeconds, snap.TickLatency)
	collectLatency(ch, descDispatchSeconds, snap.DispatchLatency)
}

func collectLatency(ch chan<- prometheus.Metric, desc *prometheus.Desc, l LatencySnapshot) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, l.Min.Seconds(), "min")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, l.Max.Seconds(), "max")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, l.Avg.Seconds(), "avg")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(l.Count), "count")
}
