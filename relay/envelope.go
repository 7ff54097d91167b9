/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package relay implements the framing adapter (C6) that tunnels session
// ciphertexts and delivery acknowledgements through the relay fallback as
// opaque "bitchat1:" strings, when the direct transport is unavailable.
package relay

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// PayloadType is the first byte of a BitChatPacket's payload, identifying
// what the remainder carries.
type PayloadType byte

const (
	PrivateMessage PayloadType = 0x01
	Delivered      PayloadType = 0x02
	ReadReceipt    PayloadType = 0x03
)

// packetType is the fixed BitChatPacket.type value this adapter produces:
// every relay-adapted frame carries a Noise ciphertext, never plaintext.
const packetType = 0x01

const (
	senderIDSize    = 8
	recipientIDSize = 8
	// defaultTTL is the hop count every envelope is encoded with (§4.6);
	// the adapter never accepts a caller-supplied TTL on encode, only on
	// decode, where Packet.TTL reports whatever value was actually on
	// the wire (e.g. after a relay has decremented it in transit).
	defaultTTL = 7
	prefix     = "bitchat1:"
)

// TLV tags used for the privateMessage body. The spec leaves the TLV
// encoding of the body unspecified beyond naming its fields; this adapter
// uses a minimal tag(1)-length(2 BE)-value encoding, the same shape the
// fixed-offset fields around it already use.
const (
	tlvMessageID byte = 0x01
	tlvContent   byte = 0x02
)

var b64 = base64.RawURLEncoding

// ErrMalformed is returned by Decode when a frame's framing is invalid:
// bad prefix, bad base64, truncated fields, or a length field that
// disagrees with the remaining bytes.
var ErrMalformed = errors.New("relay: malformed envelope")

// Packet is the decoded form of a BitChatPacket (spec.md §4.6).
type Packet struct {
	SenderID     [senderIDSize]byte
	HasRecipient bool
	RecipientID  [recipientIDSize]byte
	TimestampMs  uint64
	TTL          uint8
	PayloadType  PayloadType
	Payload      []byte // TLV body (privateMessage) or raw UTF-8 message id (ack kinds)
}

// EncodePM builds a bitchat1: envelope carrying a privateMessage payload:
// TLV-encoded {messageID, content}. It returns ("", false) if sender or
// recipient are not exactly 8 raw bytes, or if the encoded payload would
// exceed the 2-byte length field's range.
func EncodePM(content, msgID string, recipient *[8]byte, sender [8]byte, nowMs uint64) (string, bool) {
	body := encodeTLV(tlvMessageID, []byte(msgID))
	body = append(body, encodeTLV(tlvContent, []byte(content))...)

	payload := append([]byte{byte(PrivateMessage)}, body...)
	return encode(sender, recipient, nowMs, payload)
}

// EncodeAck builds a bitchat1: envelope carrying a delivered or
// readReceipt acknowledgement, whose payload body is the bare UTF-8
// message id with no TLV wrapper (spec.md §4.6).
func EncodeAck(kind PayloadType, msgID string, recipient *[8]byte, sender [8]byte, nowMs uint64) (string, bool) {
	if kind != Delivered && kind != ReadReceipt {
		return "", false
	}
	payload := append([]byte{byte(kind)}, []byte(msgID)...)
	return encode(sender, recipient, nowMs, payload)
}

func encode(sender [8]byte, recipient *[8]byte, nowMs uint64, payload []byte) (string, bool) {
	if len(payload) > 0xFFFF {
		return "", false
	}

	buf := make([]byte, 0, 1+senderIDSize+1+recipientIDSize+8+1+2+len(payload)+1)
	buf = append(buf, packetType)
	buf = append(buf, sender[:]...)
	if recipient != nil {
		buf = append(buf, 1)
		buf = append(buf, recipient[:]...)
	} else {
		buf = append(buf, 0)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], nowMs)
	buf = append(buf, ts[:]...)

	buf = append(buf, defaultTTL)

	var plen [2]byte
	binary.BigEndian.PutUint16(plen[:], uint16(len(payload)))
	buf = append(buf, plen[:]...)
	buf = append(buf, payload...)

	buf = append(buf, 0) // signature_flag: always 0 for relay-adapted frames

	return prefix + b64.EncodeToString(buf), true
}

// Decode parses a bitchat1: envelope produced by EncodePM or EncodeAck (or
// an equivalent peer implementation). Any length or framing violation
// yields ErrMalformed.
func Decode(s string) (*Packet, error) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return nil, ErrMalformed
	}
	raw, err := b64.DecodeString(s[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	const minLen = 1 + senderIDSize + 1 + 8 + 1 + 2 + 1
	if len(raw) < minLen {
		return nil, ErrMalformed
	}

	off := 0
	if raw[off] != packetType {
		return nil, ErrMalformed
	}
	off++

	pkt := &Packet{}
	copy(pkt.SenderID[:], raw[off:off+senderIDSize])
	off += senderIDSize

	hasRecipient := raw[off]
	off++
	switch hasRecipient {
	case 0:
		pkt.HasRecipient = false
	case 1:
		if len(raw) < off+recipientIDSize {
			return nil, ErrMalformed
		}
		pkt.HasRecipient = true
		copy(pkt.RecipientID[:], raw[off:off+recipientIDSize])
		off += recipientIDSize
	default:
		return nil, ErrMalformed
	}

	if len(raw) < off+8+1+2 {
		return nil, ErrMalformed
	}
	pkt.TimestampMs = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	pkt.TTL = raw[off]
	off++

	payloadLen := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2
	if len(raw) < off+payloadLen+1 { // +1 for the trailing signature_flag
		return nil, ErrMalformed
	}
	payload := raw[off : off+payloadLen]
	off += payloadLen

	if len(payload) == 0 {
		return nil, ErrMalformed
	}
	pkt.PayloadType = PayloadType(payload[0])
	pkt.Payload = append([]byte{}, payload[1:]...)

	// signature_flag at raw[off] is ignored: relay-adapted frames are
	// always unsigned (spec.md §4.6).

	return pkt, nil
}

// DecodeTLV parses a privateMessage payload body into its messageID and
// content fields, the inverse of the TLV encoding EncodePM produces.
func DecodeTLV(body []byte) (messageID, content string, err error) {
	fields := map[byte]string{}
	off := 0
	for off < len(body) {
		if off+3 > len(body) {
			return "", "", ErrMalformed
		}
		tag := body[off]
		length := int(binary.BigEndian.Uint16(body[off+1 : off+3]))
		off += 3
		if off+length > len(body) {
			return "", "", ErrMalformed
		}
		fields[tag] = string(body[off : off+length])
		off += length
	}
	return fields[tlvMessageID], fields[tlvContent], nil
}

func encodeTLV(tag byte, value []byte) []byte {
	out := make([]byte, 0, 3+len(value))
	out = append(out, tag)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(value)))
	out = append(out, l[:]...)
	out = append(out, value...)
	return out
}
