package midi

import (
	"log/slog"
)

// decoder holds the running-status state of a single byte-stream decode.
// Confined to a single Decode call; it must never leak into session state
// (the session engine calls Decode once per inbound datagram).
type decoder struct {
	status      byte // current status byte driving the live accumulator
	savedStatus byte // status saved across a sysex run, for resumption
	acc         []byte
	inSysex     bool
	logger      *slog.Logger
}

// Decode consumes a byte buffer and returns the structured events it
// contains, maintaining MIDI 1.0 running status across the buffer. Unknown
// status bytes and unsupported event kinds are logged and dropped rather
// than returned as events or errors — per spec this is a per-byte warning,
// not a fatal condition.
func Decode(buf []byte, logger *slog.Logger) []Event {
	if logger == nil {
		logger = slog.Default()
	}
	d := &decoder{logger: logger}
	var events []Event

	for _, b := range buf {
		if b&0x80 != 0 {
			d.onStatus(b)
			continue
		}
		if ev, ok := d.onData(b); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (d *decoder) onStatus(b byte) {
	if b == 0xF0 {
		d.savedStatus = d.status
		d.status = b
		d.acc = []byte{b}
		d.inSysex = true
		return
	}
	d.inSysex = false
	d.status = b
	d.acc = []byte{b}
}

// onData processes one non-status byte against the live accumulator,
// returning a fully decoded event when the accumulator reaches the
// expected length for the current status family.
func (d *decoder) onData(b byte) (Event, bool) {
	if d.inSysex {
		if b == 0x7F {
			d.inSysex = false
			d.status = d.savedStatus
			if d.status != 0 {
				d.acc = []byte{d.status}
			} else {
				d.acc = nil
			}
		}
		return Event{}, false
	}

	if d.status == 0 {
		// Data byte with no preceding status; nothing to accumulate into.
		return Event{}, false
	}

	d.acc = append(d.acc, b)

	want := 1 + payloadLen(d.status)
	if payloadLen(d.status) < 0 || len(d.acc) < want {
		return Event{}, false
	}

	acc := d.acc
	d.acc = []byte{d.status} // reset, preserving running status

	kind, ok := kindForStatus[d.status&0xF0]
	if !ok {
		d.logger.Warn("midi codec: unknown status byte, dropping event",
			"status", d.status)
		return Event{}, false
	}

	channel := d.status & 0x0F
	data1, data2 := acc[1], acc[2]

	if kind == PitchBend {
		value := uint16(data1) | (uint16(data2) << 7)
		return PitchBendEvent(channel, value), true
	}
	return NoteEvent(kind, channel, data1, data2), true
}

// Encode translates structured events into a raw MIDI byte stream. Each
// event is emitted as its status byte (family | channel) followed by its
// payload bytes.
func Encode(events []Event) []byte {
	var out []byte
	for _, ev := range events {
		out = append(out, encodeOne(ev)...)
	}
	return out
}

func encodeOne(ev Event) []byte {
	family, ok := statusFamily[ev.Kind]
	if !ok {
		return nil
	}
	status := family | (ev.Channel & 0x0F)

	if ev.Kind == PitchBend {
		lsb := byte(ev.Value & 0x7F)
		msb := byte((ev.Value >> 7) & 0x7F)
		return []byte{status, lsb, msb}
	}
	return []byte{status, ev.Data1, ev.Data2}
}
