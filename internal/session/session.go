// Package session implements the peer session state machine (C4): one
// logical AppleMIDI connection to one remote host, driven by the control
// channel through NOT_CONNECTED -> SENT_REQUEST -> CONNECTED <-> SYNC.
//
// A Session carries no lock. Like the registry it belongs to, it is
// confined to the single event-loop goroutine for its entire lifetime.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/laenzlinger/rtpmidi-bridge/internal/applemidi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/protoerr"
	"github.com/laenzlinger/rtpmidi-bridge/internal/rtpframe"
)

// State is the session's position in its handshake/sync lifecycle.
type State int

const (
	NotConnected State = iota
	SentRequest
	Connected
	Sync
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case SentRequest:
		return "sent_request"
	case Connected:
		return "connected"
	case Sync:
		return "sync"
	default:
		return "unknown"
	}
}

const protocolVersion = 2

// Session is one logical AppleMIDI connection to one remote host.
type Session struct {
	RemoteHost        string
	RemoteControlPort int
	LocalSSRC         uint32
	LocalName         string

	// ConnectionID identifies this logical connection in logs across an
	// EID rebind (the EID itself changes from the local initiator token
	// to the remote SSRC the moment OK is received).
	ConnectionID string

	eid             uint32
	name            string
	state           State
	connectionStart time.Time
	clockOffset     int64
	haveOffset      bool
	seq1            uint16

	now    func() time.Time
	logger *slog.Logger
}

// New creates a session in NOT_CONNECTED, with initiatorToken as its
// initial EID (the locally chosen 32-bit random value the registry
// indexes it under until a successful OK remaps it to the remote SSRC).
func New(remoteHost string, remoteControlPort int, initiatorToken, localSSRC uint32, localName string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	connID := uuid.NewString()
	return &Session{
		RemoteHost:        remoteHost,
		RemoteControlPort: remoteControlPort,
		LocalSSRC:         localSSRC,
		LocalName:         localName,
		ConnectionID:      connID,
		eid:               initiatorToken,
		now:               time.Now,
		logger: logger.With("subsystem", "session", "connection_id", connID,
			"eid", fmt.Sprintf("%#x", initiatorToken)),
	}
}

// EID returns the session's current endpoint identifier; it satisfies
// registry.Session.
func (s *Session) EID() uint32 { return s.eid }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Name returns the remote peer's display name, set once OK is received.
func (s *Session) Name() string { return s.name }

// ClockOffset returns the session's best estimate of the remote-to-local
// clock difference and whether a sync round has completed yet.
func (s *Session) ClockOffset() (offset int64, ok bool) { return s.clockOffset, s.haveOffset }

// Connect transitions NOT_CONNECTED -> SENT_REQUEST and returns the IN
// datagram to send on both the control socket and the data socket
// (remote-port + 1), carrying the same initiator token on each.
func (s *Session) Connect() []byte {
	s.state = SentRequest
	s.logger.Info("inviting remote peer", "host", s.RemoteHost, "port", s.RemoteControlPort)
	return applemidi.EncodeInvitation(applemidi.Invitation, protocolVersion, s.eid, s.LocalSSRC, s.LocalName)
}

// HandleAccept processes a received OK. It validates the initiator-token
// field against the session's current EID, adopts the remote SSRC as the
// new EID, records connection_start, and transitions to CONNECTED. It
// returns the EID the session was registered under before this call, so
// the caller can rebind the registry entry; the session's own EID is
// already updated by the time this returns.
func (s *Session) HandleAccept(cmd applemidi.InvitationCommand) (previousEID uint32, err error) {
	if cmd.InitiatorToken != s.eid {
		return 0, fmt.Errorf("OK initiator token %#x does not match session eid %#x: %w", cmd.InitiatorToken, s.eid, protoerr.ErrHandshakeMismatch)
	}
	previousEID = s.eid
	s.eid = cmd.SenderSSRC
	s.name = cmd.Name
	s.connectionStart = s.now()
	s.state = Connected
	s.logger.Info("handshake accepted", "remote_name", s.name, "new_eid", fmt.Sprintf("%#x", s.eid))
	return previousEID, nil
}

// HandleReject processes a received NO, validating the initiator token.
// A NO is always terminal: the caller must destroy the session
// regardless of this method's return value.
func (s *Session) HandleReject(cmd applemidi.InvitationCommand) error {
	if cmd.InitiatorToken != s.eid {
		return fmt.Errorf("NO initiator token %#x does not match session eid %#x: %w", cmd.InitiatorToken, s.eid, protoerr.ErrHandshakeMismatch)
	}
	s.logger.Warn("connection rejected by remote peer")
	return nil
}

// BeginSync starts a clock-sync exchange as the initiator, transitioning
// CONNECTED -> SYNC, and returns the count=0 CK datagram to send.
func (s *Session) BeginSync() []byte {
	s.state = Sync
	t1 := s.clockTicks()
	s.logger.Debug("starting clock sync")
	return applemidi.EncodeClockSync(s.eid, 0, t1, 0, 0)
}

// HandleClockSync advances the three-message CK exchange for whichever
// role this session is playing (initiator or responder), determined by
// the received count. It returns the reply datagram to send (nil if the
// exchange just completed silently on this side) and whether the offset
// was computed/updated by this call.
func (s *Session) HandleClockSync(cmd applemidi.ClockSyncCommand) (reply []byte, synced bool, err error) {
	switch cmd.Count {
	case 0:
		s.state = Sync
		t2 := s.clockTicks()
		return applemidi.EncodeClockSync(s.eid, 1, cmd.T1, t2, 0), false, nil
	case 1:
		t3 := s.clockTicks()
		s.setOffset(cmd.T1, cmd.T2, t3)
		s.state = Connected
		return applemidi.EncodeClockSync(s.eid, 2, cmd.T1, cmd.T2, t3), true, nil
	case 2:
		s.setOffset(cmd.T1, cmd.T2, cmd.T3)
		s.state = Connected
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("clock sync count %d: %w", cmd.Count, protoerr.ErrUnsupportedCommand)
	}
}

func (s *Session) setOffset(t1, t2, t3 uint64) {
	s.clockOffset = int64((t1+t3)/2) - int64(t2)
	s.haveOffset = true
	s.logger.Info("clock offset updated", "offset_100us", s.clockOffset)
}

// clockTicks returns the current wall-clock time in 100-microsecond
// units, the unit CK timestamps are carried in.
func (s *Session) clockTicks() uint64 {
	return uint64(s.now().UnixNano() / 100000)
}

// EncodeOutbound encodes events as a data-channel datagram for this
// session. It returns (nil, nil) if the session has no connection_start
// yet (per the invariant that outbound MIDI is discarded before
// CONNECTED), and ErrEventTooLarge if the encoded payload exceeds 16
// bytes.
func (s *Session) EncodeOutbound(events []midi.Event) ([]byte, error) {
	if s.connectionStart.IsZero() {
		return nil, nil
	}
	s.seq1++
	elapsed := uint32(s.now().Sub(s.connectionStart).Milliseconds())
	return rtpframe.Encode(s.eid, s.seq1, elapsed, midi.Encode(events))
}

// HandleInbound decodes a data-channel payload into MIDI events.
func (s *Session) HandleInbound(payload []byte) []midi.Event {
	return midi.Decode(payload, s.logger)
}

// HandleGoodbye validates a received BY against the session's current
// EID. The caller destroys the session regardless of this call's
// outcome; BY is always terminal.
func (s *Session) HandleGoodbye(cmd applemidi.GoodbyeCommand) error {
	if cmd.InitiatorToken != s.eid {
		return fmt.Errorf("BY initiator token %#x does not match session eid %#x: %w", cmd.InitiatorToken, s.eid, protoerr.ErrHandshakeMismatch)
	}
	s.logger.Info("session terminated by remote peer")
	return nil
}

// Goodbye builds a BY datagram to send when this side terminates the
// session (user shutdown).
func (s *Session) Goodbye() []byte {
	return applemidi.EncodeGoodbye(protocolVersion, s.eid, s.LocalSSRC)
}
