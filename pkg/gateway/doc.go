// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gateway runs a bridge.Bridge between a UDP CoAP endpoint and a
// radio transport.
//
// The gateway owns the bridge and serializes its entry points with a single
// mutex: the UDP read loop, the radio read loop, the ping ticker and the
// timeout sweep all dispatch through it. Outbound CoAP messages are routed
// back to the peer that sent the request with the same message id; pings go
// to the configured peer address. Radio writes pass through a circuit
// breaker, and inbound datagrams through a per-peer token bucket.
//
// Malformed datagrams and radio records are counted and dropped; they never
// reach the bridge.
package gateway
