// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"errors"
	"testing"
)

func TestExtensible_Boundaries(t *testing.T) {
	tests := []struct {
		value  uint32
		nibble byte
		ext    []byte
	}{
		{0, 0, nil},
		{12, 12, nil},
		{13, 13, []byte{0x00}},
		{268, 13, []byte{0xFF}},
		{269, 14, []byte{0x00, 0x00}},
		{65804, 14, []byte{0xFF, 0xFF}},
	}

	for _, tt := range tests {
		nibble, ext, err := encodeExtensible(tt.value)
		if err != nil {
			t.Fatalf("encodeExtensible(%d) error = %v", tt.value, err)
		}
		if nibble != tt.nibble || !bytes.Equal(ext, tt.ext) {
			t.Errorf("encodeExtensible(%d) = %d %x, want %d %x", tt.value, nibble, ext, tt.nibble, tt.ext)
		}

		got, n, err := decodeExtensible(nibble, ext)
		if err != nil {
			t.Fatalf("decodeExtensible(%d) error = %v", tt.value, err)
		}
		if got != tt.value || n != len(tt.ext) {
			t.Errorf("decodeExtensible() = %d (%d bytes), want %d (%d bytes)", got, n, tt.value, len(tt.ext))
		}
	}

	if _, _, err := encodeExtensible(MaxExtensible + 1); !errors.Is(err, ErrOptionTooLarge) {
		t.Errorf("encodeExtensible(65805) error = %v, want ErrOptionTooLarge", err)
	}
}

func TestOption_NumberBoundariesRoundTrip(t *testing.T) {
	for _, number := range []OptionID{12, 13, 268, 269, 65804} {
		m := NewMessage(Confirmable, GET, 1)
		m.AddOption(NewStringOption(number, "v"))

		got, err := Unmarshal(mustMarshal(t, m))
		if err != nil {
			t.Fatalf("number %d: Unmarshal() error = %v", number, err)
		}
		if len(got.Options()) != 1 || got.Options()[0].ID != number {
			t.Errorf("number %d decoded as %v", number, got.Options())
		}
	}
}

func TestOption_LengthBoundariesRoundTrip(t *testing.T) {
	for _, length := range []int{0, 12, 13, 268, 269, 65804} {
		m := NewMessage(Confirmable, GET, 1)
		value := bytes.Repeat([]byte{0x5A}, length)
		m.AddOption(Option{ID: URIPath, Value: value})
		m.Payload = []byte{0x01}

		got, err := Unmarshal(mustMarshal(t, m))
		if err != nil {
			t.Fatalf("length %d: Unmarshal() error = %v", length, err)
		}
		if len(got.Options()) != 1 || !bytes.Equal(got.Options()[0].Value, value) {
			t.Errorf("length %d did not round trip", length)
		}
		if !bytes.Equal(got.Payload, []byte{0x01}) {
			t.Errorf("length %d: payload = %x", length, got.Payload)
		}
	}
}

func TestOption_DeltaBoundaries(t *testing.T) {
	// Successive deltas of 13, 255, 269 and 65804 exercise all three widths
	// within one message.
	numbers := []OptionID{13, 268, 537, 66341}
	m := NewMessage(NonConfirmable, POST, 9)
	for i := len(numbers) - 1; i >= 0; i-- {
		m.AddOption(NewUintOption(numbers[i], uint32(i)))
	}

	got, err := Unmarshal(mustMarshal(t, m))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for i, o := range got.Options() {
		if o.ID != numbers[i] {
			t.Errorf("option %d number = %d, want %d", i, o.ID, numbers[i])
		}
		if v, _ := o.Uint(); v != uint32(i) {
			t.Errorf("option %d value = %d, want %d", i, v, i)
		}
	}
}

func TestMarshal_TooLarge(t *testing.T) {
	m := NewMessage(Confirmable, GET, 1)
	m.AddOption(Option{ID: MaxExtensible + 1})
	if _, err := m.Marshal(); !errors.Is(err, ErrOptionTooLarge) {
		t.Errorf("Marshal() with delta 65805 error = %v", err)
	}

	m = NewMessage(Confirmable, GET, 1)
	m.AddOption(Option{ID: URIPath, Value: make([]byte, MaxExtensible+1)})
	if _, err := m.Marshal(); !errors.Is(err, ErrOptionTooLarge) {
		t.Errorf("Marshal() with length 65805 error = %v", err)
	}
}

func TestNewUintOption(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{}},
		{24, []byte{24}},
		{0x0100, []byte{0x01, 0x00}},
		{0x01000000, []byte{0x01, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		o := NewUintOption(ContentFormat, tt.v)
		if !bytes.Equal(o.Value, tt.want) {
			t.Errorf("NewUintOption(%d) = %x, want %x", tt.v, o.Value, tt.want)
		}
		if v, err := o.Uint(); err != nil || v != tt.v {
			t.Errorf("Uint() = %d, %v, want %d", v, err, tt.v)
		}
	}

	if _, err := (Option{Value: make([]byte, 5)}).Uint(); err == nil {
		t.Error("expected error for 5-byte uint")
	}
}
