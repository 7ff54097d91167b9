/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalandarov/bitchat/noise"
)

type fixedKeyChain struct {
	key noise.PrivateKey
}

func newFixedKeyChain(t *testing.T) *fixedKeyChain {
	t.Helper()
	sk, err := noise.GeneratePrivateKey()
	require.NoError(t, err)
	return &fixedKeyChain{key: sk}
}

func (f *fixedKeyChain) LoadOrCreateStatic() (noise.PrivateKey, error) { return f.key, nil }
func (f *fixedKeyChain) SecureClear(buf []byte)                       { noise.SecureZero(buf) }

type eventRecorder struct {
	mu        sync.Mutex
	established []PeerID
	failed      []PeerID
}

func (e *eventRecorder) onEstablished(peer PeerID, _ noise.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.established = append(e.established, peer)
}

func (e *eventRecorder) onFailed(peer PeerID, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, peer)
}

func (e *eventRecorder) waitEstablished(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.established) >= n
	}, time.Second, time.Millisecond)
}

func newTestManager(t *testing.T, rec *eventRecorder) *Manager {
	t.Helper()
	m, err := NewManager(newFixedKeyChain(t), rec.onEstablished, rec.onFailed)
	require.NoError(t, err)
	return m
}

func TestManagerHappyPathHandshake(t *testing.T) {
	iRec, rRec := &eventRecorder{}, &eventRecorder{}
	initMgr := newTestManager(t, iRec)
	respMgr := newTestManager(t, rRec)

	const initiatorID, responderID PeerID = "initiator0000001", "responder0000001"

	msg1, err := initMgr.Initiate(responderID)
	require.NoError(t, err)

	msg2, err := respMgr.HandleIncoming(initiatorID, msg1)
	require.NoError(t, err)

	msg3, err := initMgr.HandleIncoming(responderID, msg2)
	require.NoError(t, err)

	out, err := respMgr.HandleIncoming(initiatorID, msg3)
	require.NoError(t, err)
	assert.Nil(t, out)

	iRec.waitEstablished(t, 1)
	rRec.waitEstablished(t, 1)

	ct, err := initMgr.Encrypt(responderID, []byte("hello"))
	require.NoError(t, err)
	pt, err := respMgr.Decrypt(initiatorID, ct)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestManagerInitiateTwiceWhileEstablishedFails(t *testing.T) {
	rec := &eventRecorder{}
	m := newTestManager(t, rec)

	const peer PeerID = "peer0000000000001"
	_, err := m.Initiate(peer)
	require.NoError(t, err)

	// Force the session straight to Established for this check; a real
	// caller reaches it via HandleIncoming as in TestManagerHappyPathHandshake.
	sess, err := m.GetSession(peer)
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = Established
	sess.mu.Unlock()

	_, err = m.Initiate(peer)
	assert.ErrorIs(t, err, ErrAlreadyEstablished)
}

func TestManagerEncryptWithoutSessionFails(t *testing.T) {
	rec := &eventRecorder{}
	m := newTestManager(t, rec)
	_, err := m.Encrypt("ghost-peer-00001", []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRestartDuringHandshakeRule(t *testing.T) {
	iRec, rRec := &eventRecorder{}, &eventRecorder{}
	initMgr := newTestManager(t, iRec)
	respMgr := newTestManager(t, rRec)

	const initiatorID, responderID PeerID = "initiator0000002", "responder0000002"

	msg1, err := initMgr.Initiate(responderID)
	require.NoError(t, err)
	_, err = respMgr.HandleIncoming(initiatorID, msg1)
	require.NoError(t, err)

	// Responder is now Handshaking. A fresh 32-byte message-1-shaped
	// payload arriving mid-handshake restarts it as responder again
	// (spec.md §4.5 rule 2 / §8 boundary behavior).
	freshMsg1, err := initMgr.Initiate(responderID)
	require.NoError(t, err)
	_, err = respMgr.HandleIncoming(initiatorID, freshMsg1)
	require.NoError(t, err)

	sess, err := respMgr.GetSession(initiatorID)
	require.NoError(t, err)
	assert.Equal(t, Handshaking, sess.State())
}

func TestManagerPeerRestartAfterEstablishedEvicts(t *testing.T) {
	iRec, rRec := &eventRecorder{}, &eventRecorder{}
	initMgr := newTestManager(t, iRec)
	respMgr := newTestManager(t, rRec)

	const initiatorID, responderID PeerID = "initiator0000003", "responder0000003"

	msg1, err := initMgr.Initiate(responderID)
	require.NoError(t, err)
	msg2, err := respMgr.HandleIncoming(initiatorID, msg1)
	require.NoError(t, err)
	msg3, err := initMgr.HandleIncoming(responderID, msg2)
	require.NoError(t, err)
	_, err = respMgr.HandleIncoming(initiatorID, msg3)
	require.NoError(t, err)

	rRec.waitEstablished(t, 1)

	// initiator "restarts": a brand-new handshake msg1 arrives at an
	// established responder session (rule 1).
	newInitMgr := newTestManager(t, iRec)
	newMsg1, err := newInitMgr.Initiate(responderID)
	require.NoError(t, err)

	_, err = respMgr.HandleIncoming(initiatorID, newMsg1)
	require.NoError(t, err)

	sess, err := respMgr.GetSession(initiatorID)
	require.NoError(t, err)
	assert.Equal(t, Handshaking, sess.State())
}

func TestManagerRemoveAll(t *testing.T) {
	rec := &eventRecorder{}
	m := newTestManager(t, rec)
	_, err := m.Initiate("peer-aaaaaaaaaaa1")
	require.NoError(t, err)
	_, err = m.Initiate("peer-aaaaaaaaaaa2")
	require.NoError(t, err)

	m.RemoveAll()

	_, err = m.GetSession("peer-aaaaaaaaaaa1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.GetSession("peer-aaaaaaaaaaa2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerSessionsNeedingRekey(t *testing.T) {
	iRec, rRec := &eventRecorder{}, &eventRecorder{}
	initMgr := newTestManager(t, iRec)
	respMgr := newTestManager(t, rRec)

	const initiatorID, responderID PeerID = "initiator0000004", "responder0000004"

	msg1, err := initMgr.Initiate(responderID)
	require.NoError(t, err)
	msg2, err := respMgr.HandleIncoming(initiatorID, msg1)
	require.NoError(t, err)
	msg3, err := initMgr.HandleIncoming(responderID, msg2)
	require.NoError(t, err)
	_, err = respMgr.HandleIncoming(initiatorID, msg3)
	require.NoError(t, err)

	due := initMgr.SessionsNeedingRekey()
	assert.Empty(t, due)

	sess, err := initMgr.GetSession(responderID)
	require.NoError(t, err)
	sess.mu.Lock()
	sess.lastRekeyAt = time.Now().Add(-2 * time.Hour)
	sess.mu.Unlock()

	due = initMgr.SessionsNeedingRekey()
	assert.Equal(t, []PeerID{responderID}, due)
}

func TestManagerRemoveLogsSessionExpiredOnlyWhenEstablished(t *testing.T) {
	rec := &eventRecorder{}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)
	m, err := NewManager(newFixedKeyChain(t), rec.onEstablished, rec.onFailed, WithLogger(log))
	require.NoError(t, err)

	const peer PeerID = "peer0000000000002"
	_, err = m.Initiate(peer)
	require.NoError(t, err)

	// Still Handshaking: Remove must not log session_expired.
	m.Remove(peer)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, "session_expired", e.Message)
	}
	hook.Reset()

	_, err = m.Initiate(peer)
	require.NoError(t, err)
	sess, err := m.GetSession(peer)
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = Established
	sess.mu.Unlock()

	m.Remove(peer)
	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "session_expired" && e.Data["peer"] == string(peer) {
			found = true
		}
	}
	assert.True(t, found, "expected a session_expired log entry for peer %s", peer)
}

func TestManagerCallbacksDispatchInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []PeerID
	onEstablished := func(peer PeerID, _ noise.PublicKey) {
		// Hold the lock briefly so a second, concurrently-dispatched
		// callback would have a chance to interleave if the manager's
		// single dispatcher goroutine were not actually serializing.
		mu.Lock()
		defer mu.Unlock()
		time.Sleep(time.Millisecond)
		order = append(order, peer)
	}
	m, err := NewManager(newFixedKeyChain(t), onEstablished, nil)
	require.NoError(t, err)

	peers := []PeerID{"orderpeer00000001", "orderpeer00000002", "orderpeer00000003"}
	for _, peer := range peers {
		other, err := NewManager(newFixedKeyChain(t), nil, nil)
		require.NoError(t, err)
		msg1, err := other.Initiate("responderfixed001")
		require.NoError(t, err)
		msg2, err := m.HandleIncoming(peer, msg1)
		require.NoError(t, err)
		msg3, err := other.HandleIncoming("responderfixed001", msg2)
		require.NoError(t, err)
		_, err = m.HandleIncoming(peer, msg3)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(peers)
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, peers, order)
}

func TestWithCallbackBufferOverridesQueueDepth(t *testing.T) {
	rec := &eventRecorder{}
	m, err := NewManager(newFixedKeyChain(t), rec.onEstablished, rec.onFailed, WithCallbackBuffer(4))
	require.NoError(t, err)
	assert.Equal(t, 4, cap(m.callbacks))
}

func TestWithRekeyPolicyOptionIsApplied(t *testing.T) {
	rec := &eventRecorder{}
	custom := RekeyPolicy{MaxMessages: 3, MaxBytes: 1024, MaxAge: time.Minute}
	m, err := NewManager(newFixedKeyChain(t), rec.onEstablished, rec.onFailed, WithRekeyPolicy(custom))
	require.NoError(t, err)
	assert.Equal(t, custom, m.policy)
}
