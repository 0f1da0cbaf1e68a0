// Package metrics exposes the session engine's state as Prometheus
// metrics, gathered at scrape time rather than pushed incrementally.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatus is one session's state, as reported for the
// per-session status gauge.
type SessionStatus struct {
	EID   uint32
	Name  string
	State string
}

// SessionsProvider exposes a snapshot of live sessions.
type SessionsProvider interface {
	SessionStatuses() []SessionStatus
}

// Counters exposes monotonic datagram/codec counters accumulated by the
// engine's event loop. All methods must be safe to call
// concurrently with the engine goroutine incrementing them.
type Counters interface {
	DatagramsReceived() uint64
	DatagramsDropped() uint64
	MIDIEventsDecoded() uint64
	MIDIEventsEncoded() uint64
}

// Collector is a prometheus.Collector gathering session engine metrics.
// Any provider may be nil if unavailable.
type Collector struct {
	sessions  SessionsProvider
	counters  Counters
	startTime time.Time

	sessionsActiveDesc *prometheus.Desc
	sessionStatusDesc  *prometheus.Desc
	datagramsRecvDesc  *prometheus.Desc
	datagramsDropDesc  *prometheus.Desc
	midiDecodedDesc    *prometheus.Desc
	midiEncodedDesc    *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a metrics collector.
func NewCollector(sessions SessionsProvider, counters Counters, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		counters:  counters,
		startTime: startTime,

		sessionsActiveDesc: prometheus.NewDesc(
			"rtpmidi_sessions_active",
			"Number of currently live AppleMIDI sessions",
			nil, nil,
		),
		sessionStatusDesc: prometheus.NewDesc(
			"rtpmidi_session_state",
			"Per-session state (1=current state, labeled by eid/name/state)",
			[]string{"eid", "name", "state"}, nil,
		),
		datagramsRecvDesc: prometheus.NewDesc(
			"rtpmidi_datagrams_received_total",
			"Total inbound datagrams received across both sockets",
			nil, nil,
		),
		datagramsDropDesc: prometheus.NewDesc(
			"rtpmidi_datagrams_dropped_total",
			"Total inbound datagrams dropped by the engine (framing error, unknown endpoint, unsupported command); flood-limited datagrams are not counted",
			nil, nil,
		),
		midiDecodedDesc: prometheus.NewDesc(
			"rtpmidi_midi_events_decoded_total",
			"Total structured MIDI events decoded from inbound datagrams",
			nil, nil,
		),
		midiEncodedDesc: prometheus.NewDesc(
			"rtpmidi_midi_events_encoded_total",
			"Total structured MIDI events encoded to outbound datagrams",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"rtpmidi_uptime_seconds",
			"Seconds since the bridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsActiveDesc
	ch <- c.sessionStatusDesc
	ch <- c.datagramsRecvDesc
	ch <- c.datagramsDropDesc
	ch <- c.midiDecodedDesc
	ch <- c.midiEncodedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		statuses := c.sessions.SessionStatuses()
		ch <- prometheus.MustNewConstMetric(c.sessionsActiveDesc, prometheus.GaugeValue, float64(len(statuses)))
		for _, s := range statuses {
			ch <- prometheus.MustNewConstMetric(
				c.sessionStatusDesc, prometheus.GaugeValue, 1,
				eidLabel(s.EID), s.Name, s.State,
			)
		}
	}

	if c.counters != nil {
		ch <- prometheus.MustNewConstMetric(c.datagramsRecvDesc, prometheus.CounterValue, float64(c.counters.DatagramsReceived()))
		ch <- prometheus.MustNewConstMetric(c.datagramsDropDesc, prometheus.CounterValue, float64(c.counters.DatagramsDropped()))
		ch <- prometheus.MustNewConstMetric(c.midiDecodedDesc, prometheus.CounterValue, float64(c.counters.MIDIEventsDecoded()))
		ch <- prometheus.MustNewConstMetric(c.midiEncodedDesc, prometheus.CounterValue, float64(c.counters.MIDIEventsEncoded()))
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

func eidLabel(eid uint32) string {
	return fmt.Sprintf("%#08x", eid)
}
