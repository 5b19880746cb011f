// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	bridgeerrors "github.com/absmach/coapbridge/pkg/errors"
)

const headerSize = 4

// ErrTokenTooLong is returned by SetToken for tokens over MaxTokenLength bytes.
var ErrTokenTooLong = errors.New("token longer than 15 bytes")

// Message is a CoAP message. The token length is always derived from the
// token itself and options are kept sorted by number at every insertion.
type Message struct {
	Version   uint8
	Type      Type
	Code      Code
	MessageID uint16
	Payload   []byte

	token   []byte
	options []Option
}

// NewMessage creates a message with the current protocol version.
func NewMessage(t Type, code Code, messageID uint16) *Message {
	return &Message{
		Version:   Version,
		Type:      t,
		Code:      code,
		MessageID: messageID,
	}
}

// Token returns the message token.
func (m *Message) Token() []byte {
	return m.token
}

// TokenLength returns the value of the token-length header field.
func (m *Message) TokenLength() int {
	return len(m.token)
}

// SetToken sets the token, keeping the token-length field consistent.
func (m *Message) SetToken(token []byte) error {
	if len(token) > MaxTokenLength {
		return ErrTokenTooLong
	}
	m.token = append([]byte(nil), token...)
	return nil
}

// Options returns the sorted option list. Callers must not modify it; use
// AddOption to insert.
func (m *Message) Options() []Option {
	return m.options
}

// AddOption inserts opt before the first option with a greater number, so
// options with equal numbers keep their insertion order.
func (m *Message) AddOption(opt Option) {
	for i, o := range m.options {
		if opt.ID < o.ID {
			m.options = append(m.options, Option{})
			copy(m.options[i+1:], m.options[i:])
			m.options[i] = opt
			return
		}
	}
	m.options = append(m.options, opt)
}

// Option returns the first option with the given number.
func (m *Message) Option(id OptionID) (Option, bool) {
	for _, o := range m.options {
		if o.ID == id {
			return o, true
		}
		if o.ID > id {
			break
		}
	}
	return Option{}, false
}

// Path returns the Uri-Path segments in order.
func (m *Message) Path() []string {
	var path []string
	for _, o := range m.options {
		if o.ID == URIPath {
			path = append(path, string(o.Value))
		}
	}
	return path
}

// SetPath appends one Uri-Path option per non-empty segment of a
// slash-separated path.
func (m *Message) SetPath(p string) {
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			m.AddOption(NewStringOption(URIPath, seg))
		}
	}
}

// ContentFormat returns the Content-Format option value and whether it is
// present.
func (m *Message) ContentFormat() (MediaType, bool, error) {
	opt, ok := m.Option(ContentFormat)
	if !ok {
		return 0, false, nil
	}
	v, err := opt.Uint()
	if err != nil {
		return 0, true, err
	}
	if v > 0xFFFF {
		return 0, true, fmt.Errorf("content format %d out of range", v)
	}
	return MediaType(v), true, nil
}

// Marshal serializes the message. The payload marker is written only when
// the payload is non-empty.
func (m *Message) Marshal() ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+len(m.token)+len(m.Payload)+16)
	buf[0] = (m.Version&0x03)<<6 | (uint8(m.Type)&0x03)<<4 | uint8(len(m.token))&0x0F
	buf[1] = uint8(m.Code)
	binary.BigEndian.PutUint16(buf[2:4], m.MessageID)
	buf = append(buf, m.token...)

	buf, err := appendOptions(buf, m.options)
	if err != nil {
		return nil, err
	}

	if len(m.Payload) > 0 {
		buf = append(buf, PayloadMarker)
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// Unmarshal parses a datagram. Errors wrap ErrMalformedMessage and the
// partial result is never returned.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d",
			bridgeerrors.ErrMalformedMessage, len(data), headerSize)
	}

	m := &Message{
		Version:   data[0] >> 6,
		Type:      Type(data[0] >> 4 & 0x03),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}

	tkl := int(data[0] & 0x0F)
	rest := data[headerSize:]
	if len(rest) < tkl {
		return nil, fmt.Errorf("%w: token needs %d bytes, %d left",
			bridgeerrors.ErrMalformedMessage, tkl, len(rest))
	}
	if tkl > 0 {
		m.token = append([]byte(nil), rest[:tkl]...)
	}
	rest = rest[tkl:]

	options, n, err := parseOptions(rest)
	if err != nil {
		return nil, err
	}
	m.options = options
	rest = rest[n:]

	if len(rest) > 0 {
		m.Payload = append([]byte(nil), rest...)
	}
	return m, nil
}

// String returns a one-line summary for debug logging.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s mid=%d", m.Type, m.Code, m.MessageID)
	if len(m.token) > 0 {
		fmt.Fprintf(&b, " token=%x", m.token)
	}
	if path := m.Path(); len(path) > 0 {
		fmt.Fprintf(&b, " path=/%s", strings.Join(path, "/"))
	}
	if len(m.Payload) > 0 {
		fmt.Fprintf(&b, " payload=%dB", len(m.Payload))
	}
	return b.String()
}
