package engine

import (
	"context"
	"testing"
	"time"

	"github.com/laenzlinger/rtpmidi-bridge/internal/applemidi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/rtpframe"
	"github.com/laenzlinger/rtpmidi-bridge/internal/taskqueue"
	"github.com/laenzlinger/rtpmidi-bridge/internal/transport"
)

// fakeDriver is an in-memory stand-in for transport.Driver: sent
// datagrams land in outbox instead of a real socket, and tests push
// onto incoming to simulate inbound traffic.
type fakeDriver struct {
	incoming chan transport.Datagram
	outbox   []sentDatagram
}

type sentDatagram struct {
	channel transport.Channel
	host    string
	port    int
	payload []byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{incoming: make(chan transport.Datagram, 16)}
}

func (d *fakeDriver) Incoming() <-chan transport.Datagram { return d.incoming }

func (d *fakeDriver) SendControl(host string, port int, b []byte) error {
	d.outbox = append(d.outbox, sentDatagram{transport.ControlChannel, host, port, append([]byte(nil), b...)})
	return nil
}

func (d *fakeDriver) SendData(host string, port int, b []byte) error {
	d.outbox = append(d.outbox, sentDatagram{transport.DataChannel, host, port, append([]byte(nil), b...)})
	return nil
}

func (d *fakeDriver) lastControlTo(host string) ([]byte, bool) {
	for i := len(d.outbox) - 1; i >= 0; i-- {
		if d.outbox[i].channel == transport.ControlChannel && d.outbox[i].host == host {
			return d.outbox[i].payload, true
		}
	}
	return nil, false
}

// fakeSequencer is a minimal in-memory Sequencer for drain/emit tests.
type fakeSequencer struct {
	ready   chan struct{}
	queue   []midi.Event
	emitted []midi.Event
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{ready: make(chan struct{}, 1)}
}

func (s *fakeSequencer) Readable() <-chan struct{} { return s.ready }

func (s *fakeSequencer) DrainOne() (midi.Event, bool) {
	if len(s.queue) == 0 {
		return midi.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *fakeSequencer) Emit(ev midi.Event) error {
	s.emitted = append(s.emitted, ev)
	return nil
}

func (s *fakeSequencer) Close() error { return nil }

func (s *fakeSequencer) push(ev midi.Event) {
	s.queue = append(s.queue, ev)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func runEngine(t *testing.T, e *Engine) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("engine did not stop after cancel")
		}
	}
}

func TestEngineHandshakeAndClockSync(t *testing.T) {
	driver := newFakeDriver()
	tasks := taskqueue.New(nil)
	e := New(driver, tasks, nil, "bridge", nil)
	stop := runEngine(t, e)
	defer stop()

	if err := e.ConnectPeer("10.0.0.5", 5004); err != nil {
		t.Fatalf("ConnectPeer() error = %v", err)
	}

	// Find the IN just sent, to recover the initiator token.
	waitForOutbox(t, driver, 1)
	in, err := applemidi.DecodeInvitation(driver.outbox[0].payload)
	if err != nil {
		t.Fatalf("decode sent IN: %v", err)
	}

	remoteSSRC := uint32(0xCAFEBABE)
	ok := applemidi.EncodeInvitation(applemidi.Accept, 2, in.InitiatorToken, remoteSSRC, "studio")
	driver.incoming <- transport.Datagram{Channel: transport.ControlChannel, Payload: ok}

	waitForOutbox(t, driver, 3) // two INs, then CK count=0 should follow automatically
	ckBytes, found := driver.lastControlTo("10.0.0.5")
	if !found {
		t.Fatal("expected a CK datagram sent to the remote host")
	}
	ck, err := applemidi.DecodeClockSync(ckBytes)
	if err != nil {
		t.Fatalf("decode CK: %v", err)
	}
	if ck.Count != 0 {
		t.Fatalf("Count = %d, want 0", ck.Count)
	}

	reply1 := applemidi.EncodeClockSync(remoteSSRC, 1, ck.T1, ck.T1+1, 0)
	driver.incoming <- transport.Datagram{Channel: transport.ControlChannel, Payload: reply1}

	waitForOutbox(t, driver, 4)
	final, _ := driver.lastControlTo("10.0.0.5")
	ck2, err := applemidi.DecodeClockSync(final)
	if err != nil {
		t.Fatalf("decode final CK: %v", err)
	}
	if ck2.Count != 2 {
		t.Fatalf("Count = %d, want 2", ck2.Count)
	}

	snapshots := eventualSnapshots(t, e, 1)
	if snapshots[0].State != "connected" {
		t.Fatalf("State = %q, want connected", snapshots[0].State)
	}
	if snapshots[0].Name != "studio" {
		t.Fatalf("Name = %q, want studio", snapshots[0].Name)
	}
}

func TestEngineRejectRemovesSession(t *testing.T) {
	driver := newFakeDriver()
	tasks := taskqueue.New(nil)
	e := New(driver, tasks, nil, "bridge", nil)
	stop := runEngine(t, e)
	defer stop()

	_ = e.ConnectPeer("10.0.0.9", 5004)
	waitForOutbox(t, driver, 1)
	in, _ := applemidi.DecodeInvitation(driver.outbox[0].payload)

	no := applemidi.EncodeInvitation(applemidi.Reject, 2, in.InitiatorToken, 0xBADC0FFE, "")
	driver.incoming <- transport.Datagram{Channel: transport.ControlChannel, Payload: no}

	snapshots := eventualSnapshots(t, e, 0)
	if len(snapshots) != 0 {
		t.Fatalf("expected no sessions after NO, got %d", len(snapshots))
	}
}

func TestEngineRoutesInboundMIDIToSequencer(t *testing.T) {
	driver := newFakeDriver()
	tasks := taskqueue.New(nil)
	seq := newFakeSequencer()
	e := New(driver, tasks, seq, "bridge", nil)
	stop := runEngine(t, e)
	defer stop()

	if err := e.ConnectPeer("10.0.0.5", 5004); err != nil {
		t.Fatalf("ConnectPeer() error = %v", err)
	}
	waitForOutbox(t, driver, 1)
	in, _ := applemidi.DecodeInvitation(driver.outbox[0].payload)
	remoteSSRC := uint32(0x11223344)
	ok := applemidi.EncodeInvitation(applemidi.Accept, 2, in.InitiatorToken, remoteSSRC, "studio")
	driver.incoming <- transport.Datagram{Channel: transport.ControlChannel, Payload: ok}
	eventualSnapshots(t, e, 1)

	payload := midi.Encode([]midi.Event{midi.NoteEvent(midi.NoteOn, 0, 64, 127)})
	frame, err := rtpframe.Encode(remoteSSRC, 1, 0, payload)
	if err != nil {
		t.Fatalf("rtpframe.Encode() error = %v", err)
	}
	driver.incoming <- transport.Datagram{Channel: transport.DataChannel, Payload: frame}

	deadline := time.Now().Add(time.Second)
	for len(seq.emitted) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(seq.emitted) != 1 {
		t.Fatalf("sequencer emitted %d events, want 1", len(seq.emitted))
	}
	if seq.emitted[0].Kind != midi.NoteOn {
		t.Fatalf("emitted event kind = %v, want NoteOn", seq.emitted[0].Kind)
	}
}

func waitForOutbox(t *testing.T, d *fakeDriver, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(d.outbox) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(d.outbox) < n {
		t.Fatalf("outbox has %d datagrams, want at least %d", len(d.outbox), n)
	}
}

func eventualSnapshots(t *testing.T, e *Engine, n int) []sessionViewForTest {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		snaps := e.SessionSnapshots()
		if len(snaps) == n {
			out := make([]sessionViewForTest, len(snaps))
			for i, s := range snaps {
				out[i] = sessionViewForTest{State: s.State, Name: s.Name}
			}
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot count did not reach %d in time, last = %+v", n, snaps)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sessionViewForTest struct {
	State string
	Name  string
}
