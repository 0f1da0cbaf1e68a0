package metrics

import "sync/atomic"

// AtomicCounters is the engine's concrete Counters implementation: plain
// atomic counters incremented from the event-loop goroutine and read
// from the HTTP scrape goroutine.
type AtomicCounters struct {
	datagramsReceived atomic.Uint64
	datagramsDropped  atomic.Uint64
	midiEventsDecoded atomic.Uint64
	midiEventsEncoded atomic.Uint64
}

func (c *AtomicCounters) RecordDatagramReceived() { c.datagramsReceived.Add(1) }
func (c *AtomicCounters) RecordDatagramDropped()   { c.datagramsDropped.Add(1) }
func (c *AtomicCounters) RecordMIDIEventsDecoded(n int) {
	if n > 0 {
		c.midiEventsDecoded.Add(uint64(n))
	}
}
func (c *AtomicCounters) RecordMIDIEventsEncoded(n int) {
	if n > 0 {
		c.midiEventsEncoded.Add(uint64(n))
	}
}

func (c *AtomicCounters) DatagramsReceived() uint64 { return c.datagramsReceived.Load() }
func (c *AtomicCounters) DatagramsDropped() uint64   { return c.datagramsDropped.Load() }
func (c *AtomicCounters) MIDIEventsDecoded() uint64  { return c.midiEventsDecoded.Load() }
func (c *AtomicCounters) MIDIEventsEncoded() uint64  { return c.midiEventsEncoded.Load() }
