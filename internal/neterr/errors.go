// Package neterr defines the sentinel error taxonomy so callers can
// branch on failure class with errors.Is instead of string matching.
// Each sentinel maps to one of a small set of handling policies: drop
// silently, disconnect, refuse login, or escalate.
package neterr

import "errors"

var (
	// ErrMalformedWire covers short reads, bad magic, reserved reliability
	// bits and length mismatches. Policy: drop the datagram, log at debug,
	// never disconnect — a corrupted packet must not become a DOS vector.
	ErrMalformedWire = errors.New("malformed wire data")

	// ErrProtocolViolation covers a packet arriving in a state that does
	// not allow it, an unexpected identity-chain length, or a checksum
	// mismatch. Policy: send Disconnect, cancel the session.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrAuthFailure covers identity-chain verification failures: broken
	// trust to the Mojang key, expired/not-yet-valid tokens, bad
	// signatures. Policy: refuse Login, disconnect with a reason.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrResourceExhausted covers budget depletion, forward timeouts and
	// idle timeouts. Policy: disconnect, cancel the session.
	ErrResourceExhausted = errors.New("resource exhausted")
)
