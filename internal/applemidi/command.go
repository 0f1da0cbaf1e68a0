// Package applemidi parses and emits the AppleMIDI control-channel
// commands (C3): the 0xFFFF-prefixed IN/OK/NO/BY/CK datagrams exchanged
// during handshake, rejection, termination, and clock synchronization.
package applemidi

import (
	"encoding/binary"
	"fmt"

	"github.com/laenzlinger/rtpmidi-bridge/internal/protoerr"
)

const signature = 0xFFFF

// ID identifies an AppleMIDI command by its 2-byte ASCII code.
type ID uint16

const (
	Invitation  ID = 0x494E // "IN"
	Accept      ID = 0x4F4B // "OK"
	Reject      ID = 0x4E4F // "NO"
	Goodbye     ID = 0x4259 // "BY"
	ClockSync   ID = 0x434B // "CK"
)

func (id ID) String() string {
	switch id {
	case Invitation:
		return "IN"
	case Accept:
		return "OK"
	case Reject:
		return "NO"
	case Goodbye:
		return "BY"
	case ClockSync:
		return "CK"
	default:
		return fmt.Sprintf("ID(%#04x)", uint16(id))
	}
}

// InvitationCommand is the layout shared by IN, OK and NO.
type InvitationCommand struct {
	ID             ID
	Protocol       uint32
	InitiatorToken uint32
	SenderSSRC     uint32
	Name           string
}

// GoodbyeCommand is BY: same header fields as an invitation, no name.
type GoodbyeCommand struct {
	Protocol       uint32
	InitiatorToken uint32
	SenderSSRC     uint32
}

// ClockSyncCommand is CK, the three-message timestamp exchange.
type ClockSyncCommand struct {
	SenderSSRC uint32
	Count      uint8
	T1, T2, T3 uint64
}

// IsControlCommand reports whether buf carries the 0xFFFF control-channel
// prefix. When false, the datagram is RTP-MIDI and belongs to C2.
func IsControlCommand(buf []byte) bool {
	return len(buf) >= 2 && binary.BigEndian.Uint16(buf[:2]) == signature
}

// DecodeInvitation parses an IN, OK or NO datagram.
func DecodeInvitation(buf []byte) (InvitationCommand, error) {
	if len(buf) < 16 {
		return InvitationCommand{}, fmt.Errorf("invitation command too short (%d bytes): %w", len(buf), protoerr.ErrProtocolFraming)
	}
	name, err := cString(buf[16:])
	if err != nil {
		return InvitationCommand{}, err
	}
	return InvitationCommand{
		ID:             ID(binary.BigEndian.Uint16(buf[2:4])),
		Protocol:       binary.BigEndian.Uint32(buf[4:8]),
		InitiatorToken: binary.BigEndian.Uint32(buf[8:12]),
		SenderSSRC:     binary.BigEndian.Uint32(buf[12:16]),
		Name:           name,
	}, nil
}

// DecodeGoodbye parses a BY datagram.
func DecodeGoodbye(buf []byte) (GoodbyeCommand, error) {
	if len(buf) < 16 {
		return GoodbyeCommand{}, fmt.Errorf("goodbye command too short (%d bytes): %w", len(buf), protoerr.ErrProtocolFraming)
	}
	return GoodbyeCommand{
		Protocol:       binary.BigEndian.Uint32(buf[4:8]),
		InitiatorToken: binary.BigEndian.Uint32(buf[8:12]),
		SenderSSRC:     binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// DecodeClockSync parses a CK datagram. The layout observed from the peers
// this bridge targets packs only a 4-byte header (signature+command)
// before the sender-SSRC field, not the 8-byte header IN/OK/BY use; that
// layout is preserved here rather than "corrected" to match other
// AppleMIDI references.
func DecodeClockSync(buf []byte) (ClockSyncCommand, error) {
	if len(buf) < 36 {
		return ClockSyncCommand{}, fmt.Errorf("clock sync command too short (%d bytes): %w", len(buf), protoerr.ErrProtocolFraming)
	}
	return ClockSyncCommand{
		SenderSSRC: binary.BigEndian.Uint32(buf[4:8]),
		Count:      buf[8],
		T1:         binary.BigEndian.Uint64(buf[12:20]),
		T2:         binary.BigEndian.Uint64(buf[20:28]),
		T3:         binary.BigEndian.Uint64(buf[28:36]),
	}, nil
}

// CommandID reads the 2-byte command code from a datagram already known
// to carry the 0xFFFF control-channel signature.
func CommandID(buf []byte) (ID, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("control datagram too short to carry a command id: %w", protoerr.ErrProtocolFraming)
	}
	return ID(binary.BigEndian.Uint16(buf[2:4])), nil
}

func cString(buf []byte) (string, error) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", fmt.Errorf("name field is not null-terminated: %w", protoerr.ErrProtocolFraming)
}

// EncodeInvitation builds an IN, OK or NO datagram.
func EncodeInvitation(id ID, protocol, initiatorToken, senderSSRC uint32, name string) []byte {
	out := make([]byte, 0, 16+len(name)+1)
	out = binary.BigEndian.AppendUint16(out, signature)
	out = binary.BigEndian.AppendUint16(out, uint16(id))
	out = binary.BigEndian.AppendUint32(out, protocol)
	out = binary.BigEndian.AppendUint32(out, initiatorToken)
	out = binary.BigEndian.AppendUint32(out, senderSSRC)
	out = append(out, name...)
	out = append(out, 0)
	return out
}

// EncodeGoodbye builds a BY datagram.
func EncodeGoodbye(protocol, initiatorToken, senderSSRC uint32) []byte {
	out := make([]byte, 0, 16)
	out = binary.BigEndian.AppendUint16(out, signature)
	out = binary.BigEndian.AppendUint16(out, uint16(Goodbye))
	out = binary.BigEndian.AppendUint32(out, protocol)
	out = binary.BigEndian.AppendUint32(out, initiatorToken)
	out = binary.BigEndian.AppendUint32(out, senderSSRC)
	return out
}

// EncodeClockSync builds a CK datagram for the given exchange count.
func EncodeClockSync(senderSSRC uint32, count uint8, t1, t2, t3 uint64) []byte {
	out := make([]byte, 0, 36)
	out = binary.BigEndian.AppendUint16(out, signature)
	out = binary.BigEndian.AppendUint16(out, uint16(ClockSync))
	out = binary.BigEndian.AppendUint32(out, senderSSRC)
	out = append(out, count, 0, 0, 0) // count, pad u8, pad u16
	out = binary.BigEndian.AppendUint64(out, t1)
	out = binary.BigEndian.AppendUint64(out, t2)
	out = binary.BigEndian.AppendUint64(out, t3)
	return out
}
