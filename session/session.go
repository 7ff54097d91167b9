/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qalandarov/bitchat/noise"
)

// State is a Session's position in the state machine from spec.md §4.4:
//
//	Uninit -> Handshaking -> Established
//	               |
//	               v
//	            Failed
//
// Only a handshake error leads to Failed. Reset() is reachable from every
// state and always lands back in Uninit.
type State int

const (
	Uninit State = iota
	Handshaking
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "Uninit"
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// RekeyPolicy holds the thresholds from spec.md §4.4.
type RekeyPolicy struct {
	MaxMessages uint64
	MaxBytes    uint64
	MaxAge      time.Duration
}

// DefaultRekeyPolicy matches the conservative Noise-community values given
// in spec.md §4.4: 2^20 messages, 2^32 bytes, 1 hour.
func DefaultRekeyPolicy() RekeyPolicy {
	return RekeyPolicy{
		MaxMessages: 1 << 20,
		MaxBytes:    1 << 32,
		MaxAge:      time.Hour,
	}
}

// Session is the per-peer state machine (C4). Every public method
// serializes under a single per-session mutex — no readers are allowed
// during a handshake step, matching spec.md §5's "no suspension points
// within a cryptographic operation" rule.
type Session struct {
	mu sync.Mutex

	// id is a per-instance correlation id, logged by the manager around
	// handshake arbitration so a run of log lines for one physical session
	// (which may be evicted and replaced several times, per §4.5) can still
	// be told apart from the next instance for the same peer.
	id    string
	peer  PeerID
	role  noise.Role
	local noise.PrivateKey

	state     State
	failCause error

	hs   *noise.HandshakeState
	send *noise.CipherState
	recv *noise.CipherState

	remoteStatic   noise.PublicKey
	haveRemote     bool
	handshakeHash  [noise.KeySize]byte
	haveHash       bool
	createdAt      time.Time
	lastRekeyAt    time.Time
	bytesSent      uint64
	messagesSent   uint64
	selfDial       bool
}

// NewSession creates a session for peer, not yet handshaking.
func NewSession(peer PeerID, local noise.PrivateKey) *Session {
	return &Session{
		id:        uuid.NewString(),
		peer:      peer,
		local:     local,
		state:     Uninit,
		createdAt: time.Now(),
	}
}

// ID returns the session instance's correlation id, for log correlation.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsEstablished reports whether the session is in the Established state.
func (s *Session) IsEstablished() bool {
	return s.State() == Established
}

// Peer returns the peer this session is for.
func (s *Session) Peer() PeerID {
	return s.peer
}

// RemoteStatic returns the remote peer's long-term public key. Valid only
// once the handshake has completed.
func (s *Session) RemoteStatic() (noise.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveRemote {
		return noise.PublicKey{}, NewError(InvalidState, nil)
	}
	return s.remoteStatic, nil
}

// HandshakeHash returns the completed handshake's transcript hash.
func (s *Session) HandshakeHash() ([noise.KeySize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveHash {
		return [noise.KeySize]byte{}, NewError(InvalidState, nil)
	}
	return s.handshakeHash, nil
}

// SelfDial reports whether the completed handshake's remote static key
// equaled the local static key (spec.md §4.3).
func (s *Session) SelfDial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfDial
}

// StartHandshake begins a new handshake. It is only valid in Uninit. The
// initiator transitions to Handshaking and returns message 1; the
// responder transitions to Handshaking and returns an empty byte slice,
// which must not be transmitted (it exists only to drive the same state
// transition on both roles from one entrypoint).
func (s *Session) StartHandshake(role noise.Role) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninit {
		return nil, NewError(InvalidState, nil)
	}

	hs, err := noise.NewHandshakeState(role, s.local)
	if err != nil {
		return nil, toSessionError(err)
	}
	s.hs = hs
	s.role = role
	s.state = Handshaking

	if role == noise.Responder {
		return []byte{}, nil
	}

	msg, err := hs.WriteMessage()
	if err != nil {
		s.failLocked(err)
		return nil, toSessionError(err)
	}
	return msg, nil
}

// ProcessHandshake consumes an inbound handshake message. It is allowed in
// Uninit (responder-only — the session is implicitly created in the
// Handshaking state) or Handshaking. It transitions to Established exactly
// when the underlying XX exchange completes.
func (s *Session) ProcessHandshake(msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninit {
		hs, err := noise.NewHandshakeState(noise.Responder, s.local)
		if err != nil {
			return nil, toSessionError(err)
		}
		s.hs = hs
		s.role = noise.Responder
		s.state = Handshaking
	}

	if s.state != Handshaking {
		return nil, NewError(InvalidState, nil)
	}

	if err := s.hs.ReadMessage(msg); err != nil {
		s.failLocked(err)
		return nil, toSessionError(err)
	}

	var out []byte
	if !s.hs.IsComplete() {
		var err error
		out, err = s.hs.WriteMessage()
		if err != nil {
			s.failLocked(err)
			return nil, toSessionError(err)
		}
	}

	if s.hs.IsComplete() {
		send, recv, err := s.hs.Split()
		if err != nil {
			s.failLocked(err)
			return nil, toSessionError(err)
		}
		remote, err := s.hs.RemoteStatic()
		if err != nil {
			s.failLocked(err)
			return nil, toSessionError(err)
		}
		s.send = send
		s.recv = recv
		s.remoteStatic = remote
		s.haveRemote = true
		s.handshakeHash = s.hs.HandshakeHash()
		s.haveHash = true
		s.selfDial = s.hs.SelfDial()
		s.state = Established
		s.createdAt = time.Now()
		s.lastRekeyAt = s.createdAt
		s.bytesSent = 0
		s.messagesSent = 0
		s.hs.Clear()
		s.hs = nil
	}

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Encrypt encrypts pt with empty associated data using the send cipher.
// Allowed only in Established.
func (s *Session) Encrypt(pt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Established {
		return nil, NewError(NotEstablished, nil)
	}
	ct, err := s.send.EncryptWithAD(nil, pt)
	if err != nil {
		return nil, wrapCipherError(err)
	}
	s.bytesSent += uint64(len(pt))
	s.messagesSent++
	return ct, nil
}

// Decrypt authenticates and decrypts ct using the receive cipher. Allowed
// only in Established. A failed AEAD check leaves the receive nonce
// unchanged and the session survives in Established.
func (s *Session) Decrypt(ct []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Established {
		return nil, NewError(NotEstablished, nil)
	}
	pt, err := s.recv.DecryptWithAD(nil, ct)
	if err != nil {
		return nil, wrapCipherError(err)
	}
	return pt, nil
}

// NeedsRekey reports whether any of the §4.4 thresholds has been crossed
// since establishment or the last rekey. Only meaningful in Established.
func (s *Session) NeedsRekey(policy RekeyPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Established {
		return false
	}
	if s.messagesSent >= policy.MaxMessages {
		return true
	}
	if s.bytesSent >= policy.MaxBytes {
		return true
	}
	return time.Since(s.lastRekeyAt) >= policy.MaxAge
}

// Reset unconditionally zeroizes both ciphers and any retained handshake
// buffers and transitions to Uninit. It reports whether the session had
// been Established (the caller uses this to decide whether to emit a
// SessionExpired event).
func (s *Session) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Session) resetLocked() bool {
	wasEstablished := s.state == Established

	if s.hs != nil {
		s.hs.Clear()
		s.hs = nil
	}
	if s.send != nil {
		s.send.Clear()
		s.send = nil
	}
	if s.recv != nil {
		s.recv.Clear()
		s.recv = nil
	}
	s.haveRemote = false
	s.haveHash = false
	s.selfDial = false
	s.failCause = nil
	s.bytesSent = 0
	s.messagesSent = 0
	s.state = Uninit

	return wasEstablished
}

func (s *Session) failLocked(cause error) {
	if s.hs != nil {
		s.hs.Clear()
		s.hs = nil
	}
	s.failCause = cause
	s.state = Failed
}

// FailCause returns the error that drove the session into Failed, if any.
func (s *Session) FailCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCause
}

func toSessionError(err error) error {
	switch err {
	case noise.ErrMalformed:
		return NewError(Malformed, err)
	case noise.ErrAuthTag:
		return NewError(HandshakeFailed, NewError(AuthTag, err))
	case noise.ErrKeyAgreement:
		return NewError(HandshakeFailed, NewError(KeyAgreementFailure, err))
	case noise.ErrInvalidState:
		return NewError(InvalidState, err)
	default:
		return NewError(HandshakeFailed, err)
	}
}

func wrapCipherError(err error) error {
	switch err {
	case noise.ErrAuthTag:
		return NewError(AuthTag, err)
	case noise.ErrNonceExhausted:
		return NewError(NonceExhausted, err)
	default:
		return err
	}
}
