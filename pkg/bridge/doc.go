// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the state machine that connects CoAP clients to
// actuator nodes reachable only over the radio protocol.
//
// The bridge consumes two kinds of events, an inbound CoAP message and an
// inbound radio message, and produces output only through the CoAPSink and
// RadioSink it was created with.
//
// # Dispatch
//
// Requests are resolved through a resource trie built at construction:
//
//	remote/speaker, remote/lamp              actuators, forwarded over radio
//	local/rtt, local/jitter, local/timed-out telemetry, answered immediately
//	.well-known/core                         CoRE link-format discovery
//
// A request for a remote resource becomes a pending entry keyed by its
// message id. The response is emitted when the radio reply carrying the
// same id arrives. Entries that outlive the configured timeout are removed
// by DeleteTimedOut without a response; the requester's own retransmission
// takes over from there.
//
// A request whose message id is already pending is treated as a
// retransmission: it is dropped and HandleCoAP returns an error wrapping
// errors.ErrDuplicateRequest.
//
// # Telemetry
//
// Every completed round trip updates a smoothed RTT with gain 1/8 and a
// jitter estimate (smoothed absolute difference of consecutive samples) with
// gain 1/16. Local resources report these in milliseconds.
//
// # Concurrency
//
// A Bridge has no internal locking. Every method must be called from one
// goroutine at a time; see the gateway package for a runtime that does so.
package bridge
