/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package session

import (
	"errors"
	"fmt"
)

// Kind enumerates the session error taxonomy from spec.md §7.
type Kind int

const (
	// InvalidState: wrong operation for the session's current state.
	InvalidState Kind = iota
	// NotEstablished: encrypt/decrypt attempted before Established.
	NotEstablished
	// SessionNotFound: manager lookup found no session for the peer.
	SessionNotFound
	// AlreadyEstablished: initiate called while already Established.
	AlreadyEstablished
	// Malformed: bad length or framing.
	Malformed
	// AuthTag: AEAD authentication failure.
	AuthTag
	// NonceExhausted: the 64-bit nonce counter overflowed.
	NonceExhausted
	// KeyAgreementFailure: a DH produced a degenerate (all-zero) output.
	KeyAgreementFailure
	// HandshakeFailed: any cryptographic failure during handshake.
	HandshakeFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidState:
		return "InvalidState"
	case NotEstablished:
		return "NotEstablished"
	case SessionNotFound:
		return "SessionNotFound"
	case AlreadyEstablished:
		return "AlreadyEstablished"
	case Malformed:
		return "Malformed"
	case AuthTag:
		return "AuthTag"
	case NonceExhausted:
		return "NonceExhausted"
	case KeyAgreementFailure:
		return "KeyAgreementFailure"
	case HandshakeFailed:
		return "HandshakeFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the session subsystem's sum-typed result, replacing the
// source's exception-based "try/throw/catch-evict" flow with an explicit
// kind a caller can switch on (spec.md §9).
type Error struct {
	Kind  Kind
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Inner)
	}
	return fmt.Sprintf("session: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, session.NewError(session.AuthTag, nil)) or compare
// against the package-level sentinel errors below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewError builds a *Error, wrapping an underlying cause when present.
func NewError(kind Kind, inner error) *Error {
	return &Error{Kind: kind, Inner: inner}
}

// Sentinel errors for convenient errors.Is comparisons against a specific
// kind, independent of any wrapped cause.
var (
	ErrInvalidState         = &Error{Kind: InvalidState}
	ErrNotEstablished       = &Error{Kind: NotEstablished}
	ErrSessionNotFound      = &Error{Kind: SessionNotFound}
	ErrAlreadyEstablished   = &Error{Kind: AlreadyEstablished}
	ErrMalformed            = &Error{Kind: Malformed}
	ErrAuthTag              = &Error{Kind: AuthTag}
	ErrNonceExhausted       = &Error{Kind: NonceExhausted}
	ErrKeyAgreementFailure  = &Error{Kind: KeyAgreementFailure}
)
