// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements the CoAP (RFC7252) message codec used by the bridge.
//
// # Wire Format
//
// A message is a 4-byte header followed by the token, the option list and
// an optional payload:
//
//	byte0    = version(2) | type(2) | token-length(4)
//	byte1    = code
//	byte2-3  = message id, big-endian
//	token    = token-length bytes
//	options  = delta/length encoded, ascending by number
//	0xFF     = payload marker, only when the payload is non-empty
//	payload  = remaining bytes
//
// # Options
//
// Each option starts with a byte holding a delta nibble and a length nibble.
// Values 0-12 fit in the nibble directly; 13-268 use nibble 13 and one
// extension byte holding value-13; 269-65804 use nibble 14 and two
// big-endian extension bytes holding value-269. Nibble 15 is reserved.
//
// The delta of the first option is its number; every later delta is the
// difference to the previous number. This only works on a sorted list, so
// Message.AddOption keeps options sorted on every insertion and is the only
// way to add one.
//
// # Errors
//
// Unmarshal never panics on short or inconsistent input. Every decode
// failure wraps errors.ErrMalformedMessage and no partial message is
// returned.
//
// # Limitations
//
//   - Blockwise transfer (Block1/Block2) options are carried as opaque values
//   - No message deduplication or retransmission state is kept here
package coap
