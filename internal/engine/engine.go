// Package engine is the single-threaded event loop (§5 of the session
// engine's concurrency design): it owns the registry and every session,
// selecting over the I/O driver's inbound datagram channel, the task
// queue's readiness signal, and the sequencer's readiness signal, and
// is the only thing in the process allowed to mutate any of them.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/laenzlinger/rtpmidi-bridge/internal/applemidi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/metrics"
	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/protoerr"
	"github.com/laenzlinger/rtpmidi-bridge/internal/registry"
	"github.com/laenzlinger/rtpmidi-bridge/internal/rtpframe"
	"github.com/laenzlinger/rtpmidi-bridge/internal/sequencer"
	"github.com/laenzlinger/rtpmidi-bridge/internal/session"
	"github.com/laenzlinger/rtpmidi-bridge/internal/statusapi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/taskqueue"
	"github.com/laenzlinger/rtpmidi-bridge/internal/transport"
)

// Driver is the subset of transport.Driver the engine depends on,
// narrowed for testability.
type Driver interface {
	Incoming() <-chan transport.Datagram
	SendControl(host string, port int, b []byte) error
	SendData(host string, port int, b []byte) error
}

// Engine owns the registry, every session, and the two collaborators
// (sequencer and task queue) for the lifetime of the process.
type Engine struct {
	driver    Driver
	registry  *registry.Registry
	tasks     *taskqueue.Queue
	seq       sequencer.Sequencer
	localSSRC uint32
	localName string
	logger    *slog.Logger

	Counters *metrics.AtomicCounters

	view atomic.Pointer[[]sessionView]
}

type sessionView struct {
	eid          uint32
	connectionID string
	remoteHost   string
	name         string
	state        string
	clockOffset int64
	haveOffset  bool
}

// New creates an engine. seq may be nil, disabling the local sequencer
// collaborator.
func New(driver Driver, tasks *taskqueue.Queue, seq sequencer.Sequencer, localName string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		driver:    driver,
		registry:  registry.New(logger),
		tasks:     tasks,
		seq:       seq,
		localSSRC: randomUint32(),
		localName: localName,
		logger:    logger.With("subsystem", "engine"),
		Counters:  &metrics.AtomicCounters{},
	}
	empty := []sessionView{}
	e.view.Store(&empty)
	return e
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// ConnectPeer creates an outbound session to host:controlPort and sends
// the initial IN on both channels. Safe to call only from the engine's
// own goroutine, or via the task queue from any other goroutine.
func (e *Engine) ConnectPeer(host string, controlPort int) error {
	token := randomUint32()
	s := session.New(host, controlPort, token, e.localSSRC, e.localName, e.logger)
	if err := e.registry.Register(token, s); err != nil {
		return err
	}

	msg := s.Connect()
	if err := e.driver.SendControl(host, controlPort, msg); err != nil {
		e.logger.Error("failed to send IN on control channel", "error", err)
	}
	if err := e.driver.SendData(host, controlPort+1, msg); err != nil {
		e.logger.Error("failed to send IN on data channel", "error", err)
	}
	e.publishSnapshot()
	return nil
}

// Run drives the event loop until ctx is cancelled, at which point it
// sends BY to every live session and returns.
func (e *Engine) Run(ctx context.Context) error {
	var seqReady <-chan struct{}
	if e.seq != nil {
		seqReady = e.seq.Readable()
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()

		case dg := <-e.driver.Incoming():
			e.Counters.RecordDatagramReceived()
			e.handleDatagram(dg)

		case <-e.tasks.Ready():
			e.tasks.Drain()

		case <-seqReady:
			e.drainSequencer()
		}
	}
}

func (e *Engine) handleDatagram(dg transport.Datagram) {
	if dg.IsControlCommand() {
		e.handleControl(dg)
		return
	}
	e.handleRTPMIDI(dg)
}

func (e *Engine) handleControl(dg transport.Datagram) {
	id, err := applemidi.CommandID(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed control datagram", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}

	switch id {
	case applemidi.Invitation:
		e.logger.Warn("ignoring inbound invitation; accepting connections is not supported", "from", dg.Addr)
		e.Counters.RecordDatagramDropped()

	case applemidi.Accept:
		e.handleAccept(dg)

	case applemidi.Reject:
		e.handleReject(dg)

	case applemidi.Goodbye:
		e.handleGoodbye(dg)

	case applemidi.ClockSync:
		e.handleClockSync(dg)

	default:
		e.logger.Warn("dropping unsupported control command", "id", id)
		e.Counters.RecordDatagramDropped()
	}
}

func (e *Engine) handleAccept(dg transport.Datagram) {
	cmd, err := applemidi.DecodeInvitation(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed OK", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	sess, err := e.registry.Lookup(cmd.InitiatorToken)
	if err != nil {
		e.logger.Warn("OK for unknown endpoint", "initiator_token", fmt.Sprintf("%#x", cmd.InitiatorToken))
		e.Counters.RecordDatagramDropped()
		return
	}
	s := sess.(*session.Session)

	prevEID, err := s.HandleAccept(cmd)
	if err != nil {
		e.logger.Error("handshake mismatch on OK, terminating session", "error", err)
		e.registry.Remove(s.EID())
		e.Counters.RecordDatagramDropped()
		e.publishSnapshot()
		return
	}
	if err := e.registry.Rebind(prevEID, s.EID()); err != nil {
		e.logger.Error("failed to rebind session after OK", "error", err)
	}

	if dg.Channel == transport.ControlChannel {
		ck := s.BeginSync()
		if err := e.driver.SendControl(s.RemoteHost, s.RemoteControlPort, ck); err != nil {
			e.logger.Error("failed to send clock sync", "error", err)
		}
	}
	e.publishSnapshot()
}

func (e *Engine) handleReject(dg transport.Datagram) {
	cmd, err := applemidi.DecodeInvitation(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed NO", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	sess, err := e.registry.Lookup(cmd.InitiatorToken)
	if err != nil {
		e.logger.Warn("NO for unknown endpoint")
		e.Counters.RecordDatagramDropped()
		return
	}
	s := sess.(*session.Session)
	if err := s.HandleReject(cmd); err != nil {
		e.logger.Error("handshake mismatch on NO", "error", err)
	}
	e.registry.Remove(s.EID())
	e.publishSnapshot()
}

func (e *Engine) handleGoodbye(dg transport.Datagram) {
	cmd, err := applemidi.DecodeGoodbye(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed BY", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	sess, err := e.registry.Lookup(cmd.InitiatorToken)
	if err != nil {
		e.logger.Warn("BY for unknown endpoint")
		e.Counters.RecordDatagramDropped()
		return
	}
	s := sess.(*session.Session)
	if err := s.HandleGoodbye(cmd); err != nil {
		e.logger.Error("handshake mismatch on BY", "error", err)
	}
	e.registry.Remove(s.EID())
	e.publishSnapshot()
}

func (e *Engine) handleClockSync(dg transport.Datagram) {
	cmd, err := applemidi.DecodeClockSync(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed CK", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	sess, err := e.registry.Lookup(cmd.SenderSSRC)
	if err != nil {
		e.logger.Warn("CK for unknown endpoint", "sender_ssrc", fmt.Sprintf("%#x", cmd.SenderSSRC))
		e.Counters.RecordDatagramDropped()
		return
	}
	s := sess.(*session.Session)

	reply, _, err := s.HandleClockSync(cmd)
	if err != nil {
		e.logger.Error("clock sync failed", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	if reply != nil {
		if err := e.driver.SendControl(s.RemoteHost, s.RemoteControlPort, reply); err != nil {
			e.logger.Error("failed to send clock sync reply", "error", err)
		}
	}
	e.publishSnapshot()
}

func (e *Engine) handleRTPMIDI(dg transport.Datagram) {
	frame, err := rtpframe.Decode(dg.Payload)
	if err != nil {
		e.logger.Warn("dropping malformed RTP-MIDI datagram", "error", err)
		e.Counters.RecordDatagramDropped()
		return
	}
	sess, err := e.registry.Lookup(frame.SSRC)
	if err != nil {
		e.logger.Warn("RTP-MIDI for unknown endpoint", "ssrc", fmt.Sprintf("%#x", frame.SSRC))
		e.Counters.RecordDatagramDropped()
		return
	}
	s := sess.(*session.Session)

	events := s.HandleInbound(frame.Payload)
	e.Counters.RecordMIDIEventsDecoded(len(events))
	if e.seq == nil {
		return
	}
	for _, ev := range events {
		if err := e.seq.Emit(ev); err != nil {
			e.logger.Error("failed to emit event to local device", "error", err)
		}
	}
}

func (e *Engine) drainSequencer() {
	for {
		ev, ok := e.seq.DrainOne()
		if !ok {
			return
		}
		e.broadcastOutbound(ev)
	}
}

func (e *Engine) broadcastOutbound(ev midi.Event) {
	for _, sess := range e.registry.Sessions() {
		s := sess.(*session.Session)
		msg, err := s.EncodeOutbound([]midi.Event{ev})
		if err != nil {
			if errors.Is(err, protoerr.ErrEventTooLarge) {
				e.logger.Error("dropping oversized outbound event", "error", err)
			} else {
				e.logger.Error("failed to encode outbound event", "error", err)
			}
			continue
		}
		if msg == nil {
			continue // session not yet connected; discard per invariant
		}
		if err := e.driver.SendData(s.RemoteHost, s.RemoteControlPort+1, msg); err != nil {
			e.logger.Error("failed to send outbound datagram", "error", err)
			continue
		}
		e.Counters.RecordMIDIEventsEncoded(1)
	}
}

func (e *Engine) shutdown() {
	for _, sess := range e.registry.Sessions() {
		s := sess.(*session.Session)
		if err := e.driver.SendControl(s.RemoteHost, s.RemoteControlPort, s.Goodbye()); err != nil {
			e.logger.Error("failed to send BY during shutdown", "error", err)
		}
		e.registry.Remove(s.EID())
	}
	e.publishSnapshot()
}

func (e *Engine) publishSnapshot() {
	sessions := e.registry.Sessions()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		s := sess.(*session.Session)
		offset, haveOffset := s.ClockOffset()
		views = append(views, sessionView{
			eid:          s.EID(),
			connectionID: s.ConnectionID,
			remoteHost:   s.RemoteHost,
			name:         s.Name(),
			state:        s.State().String(),
			clockOffset: offset,
			haveOffset:  haveOffset,
		})
	}
	e.view.Store(&views)
}

// SessionStatuses implements metrics.SessionsProvider.
func (e *Engine) SessionStatuses() []metrics.SessionStatus {
	views := *e.view.Load()
	out := make([]metrics.SessionStatus, 0, len(views))
	for _, v := range views {
		out = append(out, metrics.SessionStatus{EID: v.eid, Name: v.name, State: v.state})
	}
	return out
}

// SessionSnapshots implements statusapi.SessionsProvider.
func (e *Engine) SessionSnapshots() []statusapi.SessionSnapshot {
	views := *e.view.Load()
	out := make([]statusapi.SessionSnapshot, 0, len(views))
	for _, v := range views {
		snap := statusapi.SessionSnapshot{
			EID:          fmt.Sprintf("%#08x", v.eid),
			ConnectionID: v.connectionID,
			RemoteHost:   v.remoteHost,
			Name:         v.name,
			State:        v.state,
		}
		if v.haveOffset {
			offset := v.clockOffset
			snap.ClockOffset = &offset
		}
		out = append(out, snap)
	}
	return out
}
