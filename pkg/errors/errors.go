// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error kinds raised by the CoAP/radio bridge.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Codec and dispatch errors raised while a requester is waiting
// are turned into CoAP error responses by the bridge; the others are only
// visible through telemetry and logs.
var (
	// ErrMalformedMessage indicates a datagram too short or inconsistent to decode.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrResourceNotFound indicates a Uri-Path that is not registered.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrUnsupportedMethod indicates a request code other than GET or PUT.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrMethodNotAllowed indicates a PUT on a read-only local resource.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrBadPayload indicates a Content-Format or payload that cannot be parsed.
	ErrBadPayload = errors.New("bad payload")

	// ErrRequestTimedOut indicates a pending request that was swept without reply.
	ErrRequestTimedOut = errors.New("request timed out")

	// ErrStrayReply indicates a radio reply without a matching pending request.
	ErrStrayReply = errors.New("stray reply")

	// ErrDuplicateRequest indicates a message id that is already pending.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrPendingLimit indicates the pending request table is full.
	ErrPendingLimit = errors.New("pending request limit reached")

	// ErrRadioUnavailable indicates the radio side refused an outbound message.
	ErrRadioUnavailable = errors.New("radio unavailable")
)

// BridgeError wraps an error with the bridge operation it came from.
type BridgeError struct {
	Op        string // Operation that failed
	Transport string // coap or radio
	MessageID uint16 // Message id of the exchange
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s %s [mid=%d]: %v", e.Transport, e.Op, e.MessageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// New creates a new BridgeError. It returns nil for a nil err.
func New(op, transport string, messageID uint16, err error) error {
	if err == nil {
		return nil
	}
	return &BridgeError{
		Op:        op,
		Transport: transport,
		MessageID: messageID,
		Err:       err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
