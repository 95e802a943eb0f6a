/************************************************************************************
 *
 * wyrmgate, a Discord Gateway shard client for Go
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package wyrmgate

import "golang.org/x/xerrors"

// ProtocolFatalError means the Gateway closed the connection with a code
// that can never be recovered from by resuming or re-identifying. The
// shard is Offline and will not reconnect on its own.
type ProtocolFatalError struct {
	Reason string
	Code   int
}

func (e *ProtocolFatalError) Error() string {
	return xerrors.Errorf("wyrmgate: protocol fatal (code %d): %s", e.Code, e.Reason).Error()
}

func newProtocolFatal(code int) *ProtocolFatalError {
	return &ProtocolFatalError{Reason: fatalReason(code), Code: code}
}

// MissingIntentError is returned synchronously by RequestMembers when the
// shard's configured intents don't include GUILD_MEMBERS but the request
// requires it. No Gateway traffic is sent.
type MissingIntentError struct {
	Intent string
}

func (e *MissingIntentError) Error() string {
	return xerrors.Errorf("wyrmgate: missing required intent %s", e.Intent).Error()
}

// TransportError wraps an error surfaced by the underlying transport's
// onError signal. It does not itself cause a reconnect; the corresponding
// close (if any) drives the state machine.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return xerrors.Errorf("wyrmgate: transport error: %w", e.Err).Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeFailureError means an inbound frame could not be turned into a
// usable packet (decompression or JSON decode failure). The packet that
// triggered it is silently dropped; this is surfaced only for logging.
type DecodeFailureError struct {
	Err error
}

func (e *DecodeFailureError) Error() string {
	return xerrors.Errorf("wyrmgate: decode failure: %w", e.Err).Error()
}

func (e *DecodeFailureError) Unwrap() error { return e.Err }

// errShuttingDown is returned by anything that was waiting (bucket
// acquire, offline-queue park, identify/resume) when shutdown() cancels
// it out from under them.
var errShuttingDown = xerrors.New("wyrmgate: shard is shutting down")
