package midi

import "testing"

func TestDecodeRunningStatus(t *testing.T) {
	// 90 3C 40 3C 00: NOTE_ON then an implicit running-status NOTE_ON with
	// velocity 0.
	events := Decode([]byte{0x90, 0x3C, 0x40, 0x3C, 0x00}, nil)

	want := []Event{
		NoteEvent(NoteOn, 0, 0x3C, 0x40),
		NoteEvent(NoteOn, 0, 0x3C, 0x00),
	}
	if len(events) != len(want) {
		t.Fatalf("Decode() = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestDecodeTruncatedTrailingEvent(t *testing.T) {
	events := Decode([]byte{0x90, 0x3C}, nil)
	if len(events) != 0 {
		t.Fatalf("expected no events for a truncated trailing event, got %+v", events)
	}
}

func TestDecodeUnknownStatusDropped(t *testing.T) {
	// 0xC0 (program change) is not transduced; no event should emerge and
	// no panic should occur.
	events := Decode([]byte{0xC0, 0x05}, nil)
	if len(events) != 0 {
		t.Fatalf("expected no events for an unsupported status, got %+v", events)
	}
}

func TestDecodeSysexRunRecoversRunningStatus(t *testing.T) {
	// NOTE_ON running status, then a sysex run terminated by 0x7F, then a
	// final data pair that should resume the NOTE_ON running status.
	buf := []byte{0x90, 0x3C, 0x40, 0xF0, 0x01, 0x02, 0x7F, 0x3C, 0x41}
	events := Decode(buf, nil)

	want := []Event{
		NoteEvent(NoteOn, 0, 0x3C, 0x40),
		NoteEvent(NoteOn, 0, 0x3C, 0x41),
	}
	if len(events) != len(want) {
		t.Fatalf("Decode() = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestDecodeControllerAndPitchBend(t *testing.T) {
	buf := []byte{
		0xB0, 0x07, 0x64, // CONTROLLER ch0 cc7=100
		0xE0, 0x00, 0x40, // PITCH_BEND ch0 value = 0x00 | (0x40<<7) = 8192 (center)
	}
	events := Decode(buf, nil)
	want := []Event{
		NoteEvent(Controller, 0, 0x07, 0x64),
		PitchBendEvent(0, 8192),
	}
	if len(events) != len(want) {
		t.Fatalf("Decode() = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		NoteEvent(NoteOn, 0, 0x40, 0x60),
		NoteEvent(NoteOff, 0, 0x40, 0x00),
		NoteEvent(Controller, 0, 0x01, 0x7F),
		PitchBendEvent(0, 0x2000),
	}

	encoded := Encode(events)
	decoded := Decode(encoded, nil)

	if len(decoded) != len(events) {
		t.Fatalf("round trip = %+v, want %+v", decoded, events)
	}
	for i := range events {
		if decoded[i] != events[i] {
			t.Errorf("event %d: round trip = %+v, want %+v", i, decoded[i], events[i])
		}
	}
}

func TestEncodePitchBendByteOrder(t *testing.T) {
	// value 0x1234 -> lsb = 0x34, msb = 0x24 (14-bit: 0x1234 & 0x3FFF = 0x1234)
	ev := PitchBendEvent(0, 0x1234)
	got := encodeOne(ev)
	want := []byte{0xE0, 0x34, 0x24}
	if len(got) != len(want) {
		t.Fatalf("encodeOne() = % X, want % X", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("encodeOne() = % X, want % X", got, want)
		}
	}
}
