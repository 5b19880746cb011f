// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the size of an encoded Message.
const RecordSize = 7

// ErrInvalidRecord is returned when a record does not have RecordSize bytes.
var ErrInvalidRecord = errors.New("invalid radio record")

// Code is the request or result code of a radio message.
type Code uint8

const (
	// CodeGet asks an actuator for its current value.
	CodeGet Code = 1
	// CodePut sets an actuator value.
	CodePut Code = 3
	// CodeNotFound reports that the actuator does not own the resource.
	CodeNotFound Code = 0x84
	// CodeFailure reports an actuator-side error.
	CodeFailure Code = 0xA0
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeGet:
		return "get"
	case CodePut:
		return "put"
	case CodeNotFound:
		return "not_found"
	case CodeFailure:
		return "failure"
	default:
		return fmt.Sprintf("code_%d", uint8(c))
	}
}

// Message is the fixed-size record exchanged with actuator nodes. Replies
// carry the message id of the request they answer and echo its code on
// success.
type Message struct {
	MessageID uint16
	Code      Code
	Resource  uint16
	Value     uint16
}

// MarshalBinary encodes the record as id(2) code(1) resource(2) value(2),
// big-endian.
func (m Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	binary.BigEndian.PutUint16(buf[0:2], m.MessageID)
	buf[2] = byte(m.Code)
	binary.BigEndian.PutUint16(buf[3:5], m.Resource)
	binary.BigEndian.PutUint16(buf[5:7], m.Value)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidRecord, len(data), RecordSize)
	}
	m.MessageID = binary.BigEndian.Uint16(data[0:2])
	m.Code = Code(data[2])
	m.Resource = binary.BigEndian.Uint16(data[3:5])
	m.Value = binary.BigEndian.Uint16(data[5:7])
	return nil
}
