// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	bridgeerrors "github.com/absmach/coapbridge/pkg/errors"
)

// Extensible value tiers (RFC7252 §3.1).
const (
	extByteNibble  = 13
	extWordNibble  = 14
	reservedNibble = 15

	extByteOffset = 13
	extWordOffset = 269

	// MaxExtensible is the largest delta or length a 4-bit nibble plus two
	// extension bytes can carry.
	MaxExtensible = extWordOffset + math.MaxUint16
)

// ErrOptionTooLarge is returned when an option delta or length cannot be
// represented with the extensible value encoding.
var ErrOptionTooLarge = errors.New("option delta or length exceeds 65804")

// Option is a single CoAP option. Repeated numbers keep insertion order.
type Option struct {
	ID    OptionID
	Value []byte
}

// NewStringOption creates an option carrying the UTF-8 bytes of s.
func NewStringOption(id OptionID, s string) Option {
	return Option{ID: id, Value: []byte(s)}
}

// NewUintOption creates an option carrying v in the minimal big-endian form,
// zero being encoded as an empty value.
func NewUintOption(id OptionID, v uint32) Option {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	i := 0
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	value := make([]byte, len(buf)-i)
	copy(value, buf[i:])
	return Option{ID: id, Value: value}
}

// Uint decodes the option value as a big-endian unsigned integer of at most
// four bytes. Leading zero bytes are accepted.
func (o Option) Uint() (uint32, error) {
	if len(o.Value) > 4 {
		return 0, fmt.Errorf("option %d: %d byte value is not a uint", o.ID, len(o.Value))
	}
	var v uint32
	for _, b := range o.Value {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// String returns the option as "id:value".
func (o Option) String() string {
	return fmt.Sprintf("%d:%q", o.ID, o.Value)
}

// encodeExtensible splits v into its header nibble and extension bytes.
func encodeExtensible(v uint32) (byte, []byte, error) {
	switch {
	case v < extByteOffset:
		return byte(v), nil, nil
	case v < extWordOffset:
		return extByteNibble, []byte{byte(v - extByteOffset)}, nil
	case v <= MaxExtensible:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-extWordOffset))
		return extWordNibble, ext, nil
	default:
		return 0, nil, ErrOptionTooLarge
	}
}

// decodeExtensible rebuilds a value from its nibble and the extension bytes
// at the start of data, returning the number of bytes consumed.
func decodeExtensible(nibble byte, data []byte) (uint32, int, error) {
	switch nibble {
	case extByteNibble:
		if len(data) < 1 {
			return 0, 0, fmt.Errorf("%w: truncated 1-byte extension", bridgeerrors.ErrMalformedMessage)
		}
		return uint32(data[0]) + extByteOffset, 1, nil
	case extWordNibble:
		if len(data) < 2 {
			return 0, 0, fmt.Errorf("%w: truncated 2-byte extension", bridgeerrors.ErrMalformedMessage)
		}
		return uint32(binary.BigEndian.Uint16(data)) + extWordOffset, 2, nil
	case reservedNibble:
		return 0, 0, fmt.Errorf("%w: reserved nibble 15 in option header", bridgeerrors.ErrMalformedMessage)
	default:
		return uint32(nibble), 0, nil
	}
}

// appendOptions writes the sorted option list using option deltas.
func appendOptions(buf []byte, options []Option) ([]byte, error) {
	var prev OptionID
	for i, opt := range options {
		delta := uint32(opt.ID)
		if i > 0 {
			delta = uint32(opt.ID - prev)
		}
		prev = opt.ID

		deltaNibble, deltaExt, err := encodeExtensible(delta)
		if err != nil {
			return nil, fmt.Errorf("option %d delta %d: %w", opt.ID, delta, err)
		}
		if len(opt.Value) > MaxExtensible {
			return nil, fmt.Errorf("option %d length %d: %w", opt.ID, len(opt.Value), ErrOptionTooLarge)
		}
		lengthNibble, lengthExt, err := encodeExtensible(uint32(len(opt.Value)))
		if err != nil {
			return nil, fmt.Errorf("option %d length %d: %w", opt.ID, len(opt.Value), err)
		}

		buf = append(buf, deltaNibble<<4|lengthNibble)
		buf = append(buf, deltaExt...)
		buf = append(buf, lengthExt...)
		buf = append(buf, opt.Value...)
	}
	return buf, nil
}

// parseOptions decodes options until the payload marker or the end of data.
// It returns the options and the number of bytes consumed, marker included.
func parseOptions(data []byte) ([]Option, int, error) {
	var (
		options  []Option
		deltaSum uint64
		pos      int
	)

	for pos < len(data) {
		if data[pos] == PayloadMarker {
			return options, pos + 1, nil
		}

		header := data[pos]
		pos++

		delta, n, err := decodeExtensible(header>>4, data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n

		length, n, err := decodeExtensible(header&0x0F, data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n

		if uint64(len(data)-pos) < uint64(length) {
			return nil, 0, fmt.Errorf("%w: option value needs %d bytes, %d left",
				bridgeerrors.ErrMalformedMessage, length, len(data)-pos)
		}

		deltaSum += uint64(delta)
		if deltaSum > math.MaxUint32 {
			return nil, 0, fmt.Errorf("%w: option number overflow", bridgeerrors.ErrMalformedMessage)
		}

		value := make([]byte, length)
		copy(value, data[pos:pos+int(length)])
		pos += int(length)

		options = append(options, Option{ID: OptionID(deltaSum), Value: value})
	}

	return options, pos, nil
}
