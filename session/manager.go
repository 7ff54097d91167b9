/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qalandarov/bitchat/noise"
)

// KeyChain is the abstract long-term key store the manager consumes,
// per spec.md §6. The concrete implementation (keychain.Memory or a real
// secure-enclave backend) lives outside this package.
type KeyChain interface {
	LoadOrCreateStatic() (noise.PrivateKey, error)
	SecureClear(buf []byte)
}

// MetricsSink receives best-effort counters from the manager. A nil sink is
// valid and every method on it is a no-op; concrete collectors (see the
// metrics package) satisfy this by embedding the real Prometheus types.
type MetricsSink interface {
	SessionEstablished()
	SessionFailed(cause string)
	Rekeyed()
	SessionsActive(n int)
}

// OnEstablished is invoked once a session reaches Established, outside the
// table lock.
type OnEstablished func(peer PeerID, remoteStatic noise.PublicKey)

// OnFailed is invoked once a session is evicted after a handshake failure,
// outside the table lock.
type OnFailed func(peer PeerID, cause error)

// Manager multiplexes handshakes and transport traffic across many peers
// (C5). It owns the peer-keyed session table exclusively; sessions are
// never shared or looked up except through the manager's methods.
//
// Concurrency: table mutations (create/remove/arbitrate) take the
// exclusive lock; observers (GetSession, SessionsNeedingRekey) take the
// read lock. Callbacks are queued onto a single dispatcher goroutine after
// the lock has been released, so a callback can safely call back into the
// manager without deadlocking, and callbacks for different peers still run
// in the order their triggering events occurred (spec.md §5).
type Manager struct {
	mu       sync.RWMutex
	sessions map[PeerID]*Session

	local noise.PrivateKey
	keys  KeyChain

	onEstablished OnEstablished
	onFailed      OnFailed
	callbacks     chan func()

	policy  RekeyPolicy
	log     logrus.FieldLogger
	metrics MetricsSink
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRekeyPolicy overrides DefaultRekeyPolicy().
func WithRekeyPolicy(p RekeyPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger overrides the default logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics attaches a MetricsSink. A nil sink (the default) is a no-op.
func WithMetrics(sink MetricsSink) Option {
	return func(m *Manager) {
		if sink == nil {
			sink = noopMetrics{}
		}
		m.metrics = sink
	}
}

// WithCallbackBuffer overrides callbackQueueSize, the depth of the queue
// feeding the manager's single callback-dispatch goroutine.
func WithCallbackBuffer(n int) Option {
	return func(m *Manager) { m.callbacks = make(chan func(), n) }
}

// callbackQueueSize bounds the manager's pending onEstablished/onFailed
// dispatches. A slow callback delays later callbacks for the same manager;
// once the queue is full, the Initiate/HandleIncoming call that needs to
// queue the next callback blocks until the dispatcher goroutine frees a slot.
const callbackQueueSize = 256

// NewManager constructs a Manager backed by keys, dispatching onEstablished
// and onFailed as injected sinks rather than mutable callback fields
// (spec.md §9), so they can only be set once, at construction. Callbacks
// are delivered in the order the triggering events occurred, including
// across different peers, by a single dispatcher goroutine owned by the
// manager for its lifetime.
func NewManager(keys KeyChain, onEstablished OnEstablished, onFailed OnFailed, opts ...Option) (*Manager, error) {
	local, err := keys.LoadOrCreateStatic()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		sessions:      make(map[PeerID]*Session),
		local:         local,
		keys:          keys,
		onEstablished: onEstablished,
		onFailed:      onFailed,
		callbacks:     make(chan func(), callbackQueueSize),
		policy:        DefaultRekeyPolicy(),
		log:           logrus.StandardLogger(),
		metrics:       noopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatchCallbacks()
	return m, nil
}

// dispatchCallbacks runs for the lifetime of the manager, executing queued
// onEstablished/onFailed callbacks one at a time and in submission order so
// a caller observing them serially sees per-peer establishment order
// preserved, per spec.md §5.
func (m *Manager) dispatchCallbacks() {
	for cb := range m.callbacks {
		cb()
	}
}

// Initiate starts a fresh outbound handshake with peer. It fails with
// AlreadyEstablished if an Established session already exists; a partial
// (Handshaking/Failed) session is evicted and replaced.
func (m *Manager) Initiate(peer PeerID) ([]byte, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[peer]; ok {
		if existing.IsEstablished() {
			m.mu.Unlock()
			return nil, NewError(AlreadyEstablished, nil)
		}
		m.resetAndLogExpiry(peer, existing)
		delete(m.sessions, peer)
	}

	sess := NewSession(peer, m.local)
	m.sessions[peer] = sess
	activeCount := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsActive(activeCount)

	msg, err := sess.StartHandshake(noise.Initiator)
	if err != nil {
		m.evictAndReportFailure(peer, err)
		return nil, err
	}
	return msg, nil
}

// HandleIncoming routes an inbound peer-addressed payload to the matching
// session, applying the arbitration rules from spec.md §4.5 under the
// table lock, then delivers the message and (outside the lock) fires
// onEstablished or onFailed as appropriate.
func (m *Manager) HandleIncoming(peer PeerID, msg []byte) ([]byte, error) {
	sess, err := m.arbitrate(peer, msg)
	if err != nil {
		return nil, err
	}

	out, err := sess.ProcessHandshake(msg)
	if err != nil {
		m.evictAndReportFailure(peer, err)
		return nil, err
	}

	if sess.IsEstablished() {
		remote, rsErr := sess.RemoteStatic()
		if rsErr == nil && m.onEstablished != nil {
			m.callbacks <- func() { m.onEstablished(peer, remote) }
		}
		m.metrics.SessionEstablished()
	}
	return out, nil
}

// arbitrate implements spec.md §4.5's three arbitration rules under the
// exclusive table lock, returning the session that should receive msg.
func (m *Manager) arbitrate(peer PeerID, msg []byte) (*Session, error) {
	m.mu.Lock()
	defer func() {
		m.metrics.SessionsActive(len(m.sessions))
		m.mu.Unlock()
	}()

	existing, ok := m.sessions[peer]
	if !ok {
		sess := NewSession(peer, m.local)
		m.sessions[peer] = sess
		return sess, nil
	}

	if existing.IsEstablished() {
		// Rule 1: the peer intentionally cleared state and is starting a
		// fresh handshake. Evict and start over as responder.
		m.log.WithFields(logrus.Fields{"peer": string(peer), "evicted_session": existing.ID()}).
			Debug("session: established session received new handshake message, restarting as responder")
		m.resetAndLogExpiry(peer, existing)
		sess := NewSession(peer, m.local)
		m.sessions[peer] = sess
		return sess, nil
	}

	if existing.State() == Handshaking && len(msg) == noise.Message1Size {
		// Rule 2: treat any 32-byte inbound message during a live handshake
		// as a fresh XX message 1, to recover both-sides-initiator races and
		// peer restarts mid-handshake. Per spec.md §9 this is a deliberate
		// heuristic carried over unchanged from the source design: any
		// 32-byte payload triggers the restart, not only a genuine msg1.
		m.log.WithFields(logrus.Fields{"peer": string(peer), "evicted_session": existing.ID()}).
			Debug("session: 32-byte message during handshake, restarting as responder")
		m.resetAndLogExpiry(peer, existing)
		sess := NewSession(peer, m.local)
		m.sessions[peer] = sess
		return sess, nil
	}

	// Rule 3: deliver to the existing session.
	return existing, nil
}

// resetAndLogExpiry resets sess and, if it had reached Established, emits
// the session_expired log event spec.md §6 lists among the manager's
// produced events. Callers must hold m.mu.
func (m *Manager) resetAndLogExpiry(peer PeerID, sess *Session) {
	if sess.Reset() {
		m.log.WithField("peer", string(peer)).Info("session_expired")
	}
}

func (m *Manager) evictAndReportFailure(peer PeerID, cause error) {
	m.mu.Lock()
	if sess, ok := m.sessions[peer]; ok {
		m.resetAndLogExpiry(peer, sess)
		delete(m.sessions, peer)
	}
	m.mu.Unlock()

	m.metrics.SessionFailed(causeKind(cause))
	if m.onFailed != nil {
		m.callbacks <- func() { m.onFailed(peer, cause) }
	}
}

func causeKind(err error) string {
	var se *Error
	if e, ok := err.(*Error); ok {
		se = e
	}
	if se != nil {
		return se.Kind.String()
	}
	return "unknown"
}

// Encrypt looks up the session for peer and encrypts pt, failing with
// SessionNotFound if no session exists.
func (m *Manager) Encrypt(peer PeerID, pt []byte) ([]byte, error) {
	sess, err := m.GetSession(peer)
	if err != nil {
		return nil, err
	}
	return sess.Encrypt(pt)
}

// Decrypt looks up the session for peer and decrypts ct, failing with
// SessionNotFound if no session exists.
func (m *Manager) Decrypt(peer PeerID, ct []byte) ([]byte, error) {
	sess, err := m.GetSession(peer)
	if err != nil {
		return nil, err
	}
	return sess.Decrypt(ct)
}

// GetSession is a concurrent-safe observer; it never blocks other readers.
func (m *Manager) GetSession(peer PeerID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[peer]
	if !ok {
		return nil, NewError(SessionNotFound, nil)
	}
	return sess, nil
}

// Remove resets and evicts the session for peer, if any.
func (m *Manager) Remove(peer PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[peer]; ok {
		m.resetAndLogExpiry(peer, sess)
		delete(m.sessions, peer)
	}
	m.metrics.SessionsActive(len(m.sessions))
}

// RemoveAll resets and evicts every session. This is the operation a
// transport's emergency-disconnect hook (spec.md §9) should invoke.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer, sess := range m.sessions {
		m.resetAndLogExpiry(peer, sess)
		delete(m.sessions, peer)
	}
	m.metrics.SessionsActive(0)
}

// SessionsNeedingRekey returns every peer whose session has crossed a §4.4
// threshold. A concurrent-safe observer.
func (m *Manager) SessionsNeedingRekey() []PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []PeerID
	for peer, sess := range m.sessions {
		if sess.NeedsRekey(m.policy) {
			due = append(due, peer)
		}
	}
	return due
}

// InitiateRekey tears down the existing session for peer via Reset and
// starts a fresh XX handshake, per spec.md §4.4 ("there is no in-band
// rekey message").
func (m *Manager) InitiateRekey(peer PeerID) ([]byte, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[peer]; ok {
		m.resetAndLogExpiry(peer, sess)
		delete(m.sessions, peer)
	}
	m.mu.Unlock()

	m.metrics.Rekeyed()
	return m.Initiate(peer)
}

type noopMetrics struct{}

func (noopMetrics) SessionEstablished()  {}
func (noopMetrics) SessionFailed(string) {}
func (noopMetrics) Rekeyed()             {}
func (noopMetrics) SessionsActive(int)   {}
