// Package rtpframe parses and emits the RTP-MIDI datagram framing used on
// the AppleMIDI data channel (C2 in the session engine). Only the "short
// form" MIDI command section is supported — no journal, no big header,
// no delta-time lists; this module sends and expects exactly one MIDI
// command payload per datagram, matching the existing AppleMIDI peers
// this bridge targets.
package rtpframe

import (
	"encoding/binary"
	"fmt"

	"github.com/laenzlinger/rtpmidi-bridge/internal/protoerr"
)

const (
	headerLen = 12 // fixed RTP header: flags, PT, seq(2), timestamp(4), SSRC(4)
	maxEventLen = 16
)

// Frame is a decoded inbound RTP-MIDI datagram.
type Frame struct {
	SequenceNumber uint16
	SSRC           uint32
	Payload        []byte // raw MIDI command bytes (14th byte onward, after the section header)
}

// Decode parses an inbound RTP-MIDI datagram. It extracts the SSRC used by
// the registry to demux to a session, and returns the MIDI payload that
// follows the 13th byte (the short-form section header), cut to the
// length that header declares.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerLen+1 {
		return Frame{}, fmt.Errorf("rtp-midi datagram too short (%d bytes): %w", len(buf), protoerr.ErrProtocolFraming)
	}

	seq := binary.BigEndian.Uint16(buf[2:4])
	ssrc := binary.BigEndian.Uint32(buf[8:12])

	// buf[12] is the short-form RTP-MIDI section header; its low 4 bits
	// are the length of the MIDI command section.
	length := int(buf[12] & 0x0F)
	payload := buf[13:]
	if len(payload) < length {
		return Frame{}, fmt.Errorf("rtp-midi payload shorter than declared length: %w", protoerr.ErrProtocolFraming)
	}
	payload = payload[:length]

	return Frame{
		SequenceNumber: seq,
		SSRC:           ssrc,
		Payload:        append([]byte(nil), payload...),
	}, nil
}

// Encode builds an outbound RTP-MIDI datagram for a session identified by
// ssrc (the session's current EID), at sequence seq, with elapsed time
// elapsedMS milliseconds since the session's connection start, carrying
// payload bytes. payload must not exceed 16 bytes.
func Encode(ssrc uint32, seq uint16, elapsedMS uint32, payload []byte) ([]byte, error) {
	if len(payload) > maxEventLen {
		return nil, fmt.Errorf("payload is %d bytes, max %d: %w", len(payload), maxEventLen, protoerr.ErrEventTooLarge)
	}

	out := make([]byte, 0, headerLen+1+len(payload))
	out = append(out, 0x80, 0x61) // V=2, PT=97
	out = binary.BigEndian.AppendUint16(out, seq)
	out = binary.BigEndian.AppendUint32(out, elapsedMS)
	out = binary.BigEndian.AppendUint32(out, ssrc)
	out = append(out, byte(len(payload))&0x0F)
	out = append(out, payload...)
	return out, nil
}
