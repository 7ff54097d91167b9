/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package noise

import "errors"

// Role identifies which side of the XX pattern a HandshakeState plays.
type Role int

const (
	// Initiator sends message 1 and message 3.
	Initiator Role = iota
	// Responder sends message 2.
	Responder
)

var (
	// ErrInvalidState is returned when an operation is attempted out of turn:
	// writing when it is the peer's turn to write, reading twice, or calling
	// Split before the handshake completes.
	ErrInvalidState = errors.New("noise: invalid handshake state")
	// ErrMalformed is returned when a handshake message's length does not
	// match the fixed size required by its position in the XX pattern.
	ErrMalformed = errors.New("noise: malformed handshake message")
)

// Message sizes for Noise_XX_25519_ChaChaPoly_SHA256, fixed by the pattern.
const (
	Message1Size = KeySize                     // -> e
	Message2Size = KeySize + KeySize + TagSize + TagSize // <- e, ee, s, es  (e || enc(s) || enc(""))
	Message3Size = KeySize + TagSize + TagSize           // -> s, se         (enc(s) || enc(""))
)

// HandshakeState executes the three-message Noise XX pattern:
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
//
// It owns the symmetric state (chaining key, handshake hash, and a
// temporary CipherState once a DH has been mixed in) plus the local/remote
// static and ephemeral keys, and hands back two CipherStates on Split().
type HandshakeState struct {
	role Role

	ck [KeySize]byte
	h  [KeySize]byte

	cipher   *CipherState // set once MixKey has been called at least once
	hasCipher bool

	s    PrivateKey
	sPub PublicKey
	e    PrivateKey
	ePub PublicKey

	rs       *PublicKey
	re       *PublicKey
	selfDial bool

	step     int
	complete bool
	split    bool

	// sentMessages retains the (at most three) outbound handshake messages
	// for retransmit/diagnostic purposes, per spec.md §9's "keep it optional
	// and bounded" guidance. Cleared by Clear().
	sentMessages [][]byte
}

// NewHandshakeState starts a fresh XX handshake for the given role and
// local static keypair.
func NewHandshakeState(role Role, s PrivateKey) (*HandshakeState, error) {
	sPub, err := s.Public()
	if err != nil {
		return nil, err
	}
	hs := &HandshakeState{role: role, s: s, sPub: sPub}
	hs.h = Hash([]byte(protocolName))
	hs.ck = hs.h
	return hs, nil
}

func (hs *HandshakeState) mixHash(data []byte) {
	hs.h = Hash(hs.h[:], data)
}

func (hs *HandshakeState) mixKey(input []byte) {
	ck, tempK := HKDF2(hs.ck[:], input)
	hs.ck = ck
	hs.cipher = NewCipherState(tempK)
	hs.hasCipher = true
}

func (hs *HandshakeState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !hs.hasCipher {
		hs.mixHash(plaintext)
		return append([]byte{}, plaintext...), nil
	}
	ct, err := hs.cipher.EncryptWithAD(hs.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	hs.mixHash(ct)
	return ct, nil
}

func (hs *HandshakeState) decryptAndHash(data []byte) ([]byte, error) {
	if !hs.hasCipher {
		hs.mixHash(data)
		return append([]byte{}, data...), nil
	}
	pt, err := hs.cipher.DecryptWithAD(hs.h[:], data)
	if err != nil {
		return nil, ErrAuthTag
	}
	hs.mixHash(data)
	return pt, nil
}

// IsComplete reports whether all three XX messages have been processed.
func (hs *HandshakeState) IsComplete() bool {
	return hs.complete
}

// WriteMessage produces the next handshake message this role owns. It fails
// with ErrInvalidState if the pattern is already complete or it is not this
// role's turn to write.
func (hs *HandshakeState) WriteMessage() ([]byte, error) {
	var out []byte
	var err error

	switch {
	case hs.step == 0 && hs.role == Initiator:
		out, err = hs.writeMessage1()
	case hs.step == 1 && hs.role == Responder:
		out, err = hs.writeMessage2()
	case hs.step == 2 && hs.role == Initiator:
		out, err = hs.writeMessage3()
	default:
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	hs.sentMessages = append(hs.sentMessages, out)
	hs.step++
	if hs.step == 3 {
		hs.complete = true
	}
	return out, nil
}

// ReadMessage consumes the next handshake message this role expects. It
// fails with ErrMalformed on a length mismatch, ErrAuthTag if an encrypted
// token fails to authenticate, ErrKeyAgreement on a degenerate DH, and
// ErrInvalidState if it is not this role's turn to read.
func (hs *HandshakeState) ReadMessage(msg []byte) error {
	var err error
	switch {
	case hs.step == 0 && hs.role == Responder:
		err = hs.readMessage1(msg)
	case hs.step == 1 && hs.role == Initiator:
		err = hs.readMessage2(msg)
	case hs.step == 2 && hs.role == Responder:
		err = hs.readMessage3(msg)
	default:
		return ErrInvalidState
	}
	if err != nil {
		return err
	}
	hs.step++
	if hs.step == 3 {
		hs.complete = true
	}
	return nil
}

func (hs *HandshakeState) writeMessage1() ([]byte, error) {
	e, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	ePub, err := e.Public()
	if err != nil {
		return nil, err
	}
	hs.e, hs.ePub = e, ePub

	out := append([]byte{}, ePub[:]...)
	hs.mixHash(ePub[:])

	payload, err := hs.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

func (hs *HandshakeState) readMessage1(msg []byte) error {
	if len(msg) != Message1Size {
		return ErrMalformed
	}
	var re PublicKey
	copy(re[:], msg[:KeySize])
	hs.re = &re
	hs.mixHash(re[:])

	_, err := hs.decryptAndHash(msg[KeySize:])
	return err
}

func (hs *HandshakeState) writeMessage2() ([]byte, error) {
	e, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	ePub, err := e.Public()
	if err != nil {
		return nil, err
	}
	hs.e, hs.ePub = e, ePub

	out := append([]byte{}, ePub[:]...)
	hs.mixHash(ePub[:])

	ee, err := DH(hs.e, *hs.re)
	if err != nil {
		return nil, err
	}
	hs.mixKey(ee[:])

	sCipher, err := hs.encryptAndHash(hs.sPub[:])
	if err != nil {
		return nil, err
	}
	out = append(out, sCipher...)

	es, err := DH(hs.s, *hs.re)
	if err != nil {
		return nil, err
	}
	hs.mixKey(es[:])

	payload, err := hs.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

func (hs *HandshakeState) readMessage2(msg []byte) error {
	if len(msg) != Message2Size {
		return ErrMalformed
	}
	var re PublicKey
	copy(re[:], msg[:KeySize])
	hs.re = &re
	hs.mixHash(re[:])

	ee, err := DH(hs.e, re)
	if err != nil {
		return err
	}
	hs.mixKey(ee[:])

	sEnd := KeySize + KeySize + TagSize
	rsBytes, err := hs.decryptAndHash(msg[KeySize:sEnd])
	if err != nil {
		return err
	}
	var rs PublicKey
	copy(rs[:], rsBytes)
	hs.rs = &rs
	hs.checkSelfDial()

	es, err := DH(hs.e, rs)
	if err != nil {
		return err
	}
	hs.mixKey(es[:])

	_, err = hs.decryptAndHash(msg[sEnd:])
	return err
}

func (hs *HandshakeState) writeMessage3() ([]byte, error) {
	sCipher, err := hs.encryptAndHash(hs.sPub[:])
	if err != nil {
		return nil, err
	}

	se, err := DH(hs.s, *hs.re)
	if err != nil {
		return nil, err
	}
	hs.mixKey(se[:])

	payload, err := hs.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}
	return append(sCipher, payload...), nil
}

func (hs *HandshakeState) readMessage3(msg []byte) error {
	if len(msg) != Message3Size {
		return ErrMalformed
	}
	sEnd := KeySize + TagSize
	rsBytes, err := hs.decryptAndHash(msg[:sEnd])
	if err != nil {
		return err
	}
	var rs PublicKey
	copy(rs[:], rsBytes)
	hs.rs = &rs
	hs.checkSelfDial()

	se, err := DH(hs.e, rs)
	if err != nil {
		return err
	}
	hs.mixKey(se[:])

	_, err = hs.decryptAndHash(msg[sEnd:])
	return err
}

func (hs *HandshakeState) checkSelfDial() {
	if hs.rs != nil && ConstantTimeEqual(hs.rs[:], hs.sPub[:]) {
		hs.selfDial = true
	}
}

// SelfDial reports whether the remote static key presented during this
// handshake equals the local static key. The handshake still completes
// cryptographically; this is surfaced to the caller as a flag, not a
// failure, per spec.md §4.3.
func (hs *HandshakeState) SelfDial() bool {
	return hs.selfDial
}

// Split returns the initiator/responder-ordered (send, recv) CipherState
// pair once, per spec.md §4.3: initiator's send is HKDF output 1 and recv is
// output 2; the responder gets the swapped assignment so each side's send
// matches the other's recv.
func (hs *HandshakeState) Split() (send, recv *CipherState, err error) {
	if !hs.complete {
		return nil, nil, ErrInvalidState
	}
	if hs.split {
		return nil, nil, ErrInvalidState
	}
	hs.split = true

	k1, k2 := HKDF2(hs.ck[:], nil)
	if hs.role == Initiator {
		return NewCipherState(k1), NewCipherState(k2), nil
	}
	return NewCipherState(k2), NewCipherState(k1), nil
}

// RemoteStatic returns the remote peer's long-term public key. Valid only
// after the handshake completes.
func (hs *HandshakeState) RemoteStatic() (PublicKey, error) {
	if hs.rs == nil {
		return PublicKey{}, ErrInvalidState
	}
	return *hs.rs, nil
}

// HandshakeHash returns the final transcript hash, usable for out-of-band
// channel-binding verification.
func (hs *HandshakeState) HandshakeHash() [KeySize]byte {
	return hs.h
}

// SentMessages returns the handshake messages this side has produced so
// far, in order, for diagnostics/retransmission. At most three.
func (hs *HandshakeState) SentMessages() [][]byte {
	return hs.sentMessages
}

// Clear zeroizes all retained key material and the message buffer.
func (hs *HandshakeState) Clear() {
	SecureZero(hs.s[:])
	SecureZero(hs.e[:])
	SecureZero(hs.ck[:])
	SecureZero(hs.h[:])
	if hs.cipher != nil {
		hs.cipher.Clear()
	}
	for _, m := range hs.sentMessages {
		SecureZero(m)
	}
	hs.sentMessages = nil
}
