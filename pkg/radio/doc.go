// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package radio implements the point-to-point protocol spoken by actuator
// nodes (speaker, lamp) that cannot speak CoAP.
//
// A radio message is a fixed 7-byte record:
//
//	message id (2) | code (1) | resource (2) | value (2)
//
// all big-endian. Requests use CodeGet or CodePut; a reply carries the
// message id of its request and echoes the request code on success, or
// CodeNotFound / CodeFailure.
//
// Two transports are provided. SerialTransport wraps each record in a frame
// (0x94 0xC3, uint16 length, payload) and resynchronizes on the header after
// line noise. UDPTransport sends one record per datagram.
package radio
