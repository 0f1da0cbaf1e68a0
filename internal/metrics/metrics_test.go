package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type stubSessions struct{ statuses []SessionStatus }

func (s stubSessions) SessionStatuses() []SessionStatus { return s.statuses }

func TestCollectEmitsSessionAndCounterMetrics(t *testing.T) {
	counters := &AtomicCounters{}
	counters.RecordDatagramReceived()
	counters.RecordMIDIEventsDecoded(3)

	sessions := stubSessions{statuses: []SessionStatus{{EID: 0xAABBCCDD, Name: "studio", State: "connected"}}}
	c := NewCollector(sessions, counters, time.Now().Add(-time.Minute))

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	// sessions_active + 1 session_state + 4 counters + uptime = 7
	if n != 7 {
		t.Fatalf("collected %d metrics, want 7", n)
	}
}

func TestDescribeEmitsAllDescriptors(t *testing.T) {
	c := NewCollector(nil, nil, time.Now())
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	if n != 7 {
		t.Fatalf("described %d metrics, want 7", n)
	}
}
