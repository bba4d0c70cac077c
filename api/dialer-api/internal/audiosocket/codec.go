// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audiosocket

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
)

// =============================================================================
// Wire Format
// =============================================================================

// AudioSocket framing: a three-byte header (type u8, length u16 big-endian)
// followed by exactly length payload bytes.
const (
	headerSize = 3
	MaxPayload = 65535
)

// PacketType is the first header byte.
type PacketType byte

const (
	// TypeTerminate ends the media stream; Asterisk sends it on hangup.
	TypeTerminate PacketType = 0x00
	// TypeIdentify carries the 16-byte call UUID as the first packet of
	// every connection.
	TypeIdentify PacketType = 0x01
	// TypeAudio carries one telephony frame of media.
	TypeAudio PacketType = 0x10
	// TypeError carries a UTF-8 error code from Asterisk.
	TypeError PacketType = 0xFF
)

func (t PacketType) String() string {
	switch t {
	case TypeTerminate:
		return "TERMINATE"
	case TypeIdentify:
		return "IDENTIFY"
	case TypeAudio:
		return "AUDIO"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// Packet is one decoded AudioSocket message. Payload is an owned copy,
// safe to retain after the parser moves on.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Encode serializes one packet. Payloads above MaxPayload cannot be
// represented in the two-byte length field.
func Encode(t PacketType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, internal_type.Contractf("audiosocket: payload %d exceeds %d bytes", len(payload), MaxPayload)
	}
	out := make([]byte, headerSize+len(payload))
	out[0] = byte(t)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// EncodeAudio wraps one media frame.
func EncodeAudio(frame []byte) ([]byte, error) {
	return Encode(TypeAudio, frame)
}

// ParseIdentify extracts the call UUID from an IDENTIFY payload.
func ParseIdentify(payload []byte) (uuid.UUID, error) {
	if len(payload) != 16 {
		return uuid.Nil, internal_type.Protocolf("audiosocket: identify payload is %d bytes, want 16", len(payload))
	}
	id, err := uuid.FromBytes(payload)
	if err != nil {
		return uuid.Nil, internal_type.Protocolf("audiosocket: identify payload: %v", err)
	}
	return id, nil
}

// =============================================================================
// Stream Parser
// =============================================================================

// Parser reassembles packets from an arbitrarily chunked byte stream.
// It never over-reads: a partial frame stays buffered until the missing
// bytes arrive, so any chunking of the same stream yields the same
// packet sequence.
type Parser struct {
	buf []byte
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed appends stream bytes and returns every packet completed by them.
func (p *Parser) Feed(data []byte) []Packet {
	p.buf = append(p.buf, data...)
	var out []Packet
	for len(p.buf) >= headerSize {
		length := int(binary.BigEndian.Uint16(p.buf[1:3]))
		if len(p.buf) < headerSize+length {
			break
		}
		payload := make([]byte, length)
		copy(payload, p.buf[headerSize:headerSize+length])
		out = append(out, Packet{Type: PacketType(p.buf[0]), Payload: payload})
		p.buf = p.buf[headerSize+length:]
	}
	return out
}

// Pending reports how many bytes await completion of the next packet.
func (p *Parser) Pending() int {
	return len(p.buf)
}
