// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	bridgeerrors "github.com/absmach/coapbridge/pkg/errors"
)

func mustMarshal(t *testing.T, m *Message) []byte {
	t.Helper()
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func assertEqualMessage(t *testing.T, want, got *Message) {
	t.Helper()
	if got.Version != want.Version {
		t.Errorf("Version = %d, want %d", got.Version, want.Version)
	}
	if got.Type != want.Type {
		t.Errorf("Type = %s, want %s", got.Type, want.Type)
	}
	if got.TokenLength() != want.TokenLength() {
		t.Errorf("TokenLength = %d, want %d", got.TokenLength(), want.TokenLength())
	}
	if got.Code != want.Code {
		t.Errorf("Code = %s, want %s", got.Code, want.Code)
	}
	if got.MessageID != want.MessageID {
		t.Errorf("MessageID = %d, want %d", got.MessageID, want.MessageID)
	}
	if !bytes.Equal(got.Token(), want.Token()) {
		t.Errorf("Token = %x, want %x", got.Token(), want.Token())
	}
	if len(got.Options()) != len(want.Options()) {
		t.Fatalf("got %d options, want %d", len(got.Options()), len(want.Options()))
	}
	for i := range want.Options() {
		w, g := want.Options()[i], got.Options()[i]
		if g.ID != w.ID || !bytes.Equal(g.Value, w.Value) {
			t.Errorf("option %d = %v, want %v", i, g, w)
		}
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("Payload = %x, want %x", got.Payload, want.Payload)
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *Message
	}{
		{
			name: "reset proxying not supported",
			build: func(t *testing.T) *Message {
				return NewMessage(Reset, ProxyingNotSupported, 65535)
			},
		},
		{
			name: "payload only",
			build: func(t *testing.T) *Message {
				m := NewMessage(Confirmable, Empty, 0)
				m.Payload = []byte{1, 2, 3, 4, 5}
				return m
			},
		},
		{
			name: "remote put",
			build: func(t *testing.T) *Message {
				m := NewMessage(Confirmable, PUT, 100)
				if err := m.SetToken([]byte{0xde}); err != nil {
					t.Fatal(err)
				}
				m.AddOption(NewStringOption(URIPath, "remote"))
				m.AddOption(NewStringOption(URIPath, "speaker"))
				m.AddOption(Option{ID: ContentFormat, Value: []byte{0x00, 0x00}})
				m.Payload = []byte("24")
				return m
			},
		},
		{
			name: "max token",
			build: func(t *testing.T) *Message {
				m := NewMessage(NonConfirmable, GET, 7)
				token := bytes.Repeat([]byte{0xAB}, MaxTokenLength)
				if err := m.SetToken(token); err != nil {
					t.Fatal(err)
				}
				return m
			},
		},
		{
			name: "sparse options",
			build: func(t *testing.T) *Message {
				m := NewMessage(Acknowledgement, Content, 4242)
				m.AddOption(NewStringOption(ProxyURI, "coap://example"))
				m.AddOption(NewStringOption(URIPath, "a"))
				m.AddOption(NewUintOption(Size1, 1024))
				m.AddOption(Option{ID: 2048, Value: bytes.Repeat([]byte{'x'}, 300)})
				m.Payload = []byte{PayloadMarker, 0x00}
				return m
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.build(t)
			got, err := Unmarshal(mustMarshal(t, want))
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			assertEqualMessage(t, want, got)
		})
	}
}

func TestMessage_ResetRoundTripIsEmpty(t *testing.T) {
	want := NewMessage(Reset, ProxyingNotSupported, 65535)
	data := mustMarshal(t, want)

	if !bytes.Equal(data, []byte{0x70, 165, 0xFF, 0xFF}) {
		t.Fatalf("wire form = %x, want 70a5ffff", data)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got.Token()) != 0 || len(got.Options()) != 0 || len(got.Payload) != 0 {
		t.Errorf("expected empty token, options and payload, got %v", got)
	}
}

func TestMessage_PayloadMarker(t *testing.T) {
	m := NewMessage(Confirmable, GET, 1)
	if data := mustMarshal(t, m); bytes.IndexByte(data, PayloadMarker) != -1 {
		t.Errorf("empty payload must not emit a marker: %x", data)
	}

	m.Payload = []byte("x")
	data := mustMarshal(t, m)
	if data[len(data)-2] != PayloadMarker {
		t.Errorf("expected marker before payload: %x", data)
	}

	// A trailing marker with nothing after it decodes to an empty payload.
	got, err := Unmarshal([]byte{0x40, 0x01, 0x00, 0x01, PayloadMarker})
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("Payload = %x, want empty", got.Payload)
	}
}

func TestMessage_AddOptionKeepsOrder(t *testing.T) {
	m := NewMessage(Confirmable, PUT, 1)
	m.AddOption(Option{ID: ContentFormat})
	m.AddOption(NewStringOption(URIPath, "remote"))
	m.AddOption(NewStringOption(URIQuery, "q=1"))
	m.AddOption(NewStringOption(URIPath, "speaker"))
	m.AddOption(NewStringOption(URIHost, "node"))

	var ids []OptionID
	for _, o := range m.Options() {
		ids = append(ids, o.ID)
	}
	want := []OptionID{URIHost, URIPath, URIPath, ContentFormat, URIQuery}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("option order = %v, want %v", ids, want)
	}
	if path := m.Path(); !reflect.DeepEqual(path, []string{"remote", "speaker"}) {
		t.Errorf("Path() = %v", path)
	}
}

func TestMessage_SetToken(t *testing.T) {
	m := NewMessage(Confirmable, GET, 1)
	if err := m.SetToken(make([]byte, MaxTokenLength+1)); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("SetToken(16 bytes) error = %v, want ErrTokenTooLong", err)
	}
	if m.TokenLength() != 0 {
		t.Errorf("rejected token must not change the message")
	}

	token := []byte{1, 2, 3}
	if err := m.SetToken(token); err != nil {
		t.Fatal(err)
	}
	token[0] = 9
	if m.Token()[0] != 1 || m.TokenLength() != 3 {
		t.Errorf("token must be copied and its length tracked, got %x", m.Token())
	}
}

func TestUnmarshal_KnownDatagrams(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		m, err := Unmarshal([]byte{0x40, 0x00, 0xb7, 0x6c})
		if err != nil {
			t.Fatal(err)
		}
		if m.Type != Confirmable || m.Code != Empty || m.MessageID != 0xb76c || m.Version != 1 {
			t.Errorf("unexpected ping %v", m)
		}
	})

	t.Run("well-known core", func(t *testing.T) {
		data := []byte{0x40, 0x01, 0x5a, 0xc3, 0xbb, 0x2e, 0x77, 0x65, 0x6c,
			0x6c, 0x2d, 0x6b, 0x6e, 0x6f, 0x77, 0x6e, 0x04, 0x63, 0x6f, 0x72, 0x65, 0xc1, 0x02}
		m, err := Unmarshal(data)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(m.Path(), []string{".well-known", "core"}) {
			t.Errorf("Path() = %v", m.Path())
		}
		opts := m.Options()
		if len(opts) != 3 || opts[2].ID != 23 || !bytes.Equal(opts[2].Value, []byte{0x02}) {
			t.Errorf("unexpected options %v", opts)
		}
		if !bytes.Equal(mustMarshal(t, m), data) {
			t.Errorf("re-encoding differs from the original datagram")
		}
	})
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x40, 0x01, 0x00}},
		{"truncated token", []byte{0x42, 0x01, 0x00, 0x01, 0xAA}},
		{"truncated value", []byte{0x40, 0x01, 0x00, 0x01, 0xB5, 'a'}},
		{"truncated delta extension", []byte{0x40, 0x01, 0x00, 0x01, 0xD0}},
		{"truncated length extension", []byte{0x40, 0x01, 0x00, 0x01, 0x1E, 0x00}},
		{"reserved delta nibble", []byte{0x40, 0x01, 0x00, 0x01, 0xF0}},
		{"reserved length nibble", []byte{0x40, 0x01, 0x00, 0x01, 0x1F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Unmarshal(tt.data)
			if !errors.Is(err, bridgeerrors.ErrMalformedMessage) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformedMessage", err)
			}
			if m != nil {
				t.Errorf("Unmarshal() returned a partial message %v", m)
			}
		})
	}
}

func TestMessage_ContentFormat(t *testing.T) {
	m := NewMessage(Confirmable, PUT, 1)
	if _, ok, err := m.ContentFormat(); ok || err != nil {
		t.Errorf("ContentFormat() on bare message = %v, %v", ok, err)
	}

	m.AddOption(NewUintOption(ContentFormat, uint32(AppOctetStream)))
	mt, ok, err := m.ContentFormat()
	if err != nil || !ok || mt != AppOctetStream {
		t.Errorf("ContentFormat() = %d, %v, %v", mt, ok, err)
	}

	bad := NewMessage(Confirmable, PUT, 1)
	bad.AddOption(Option{ID: ContentFormat, Value: []byte{1, 0, 0}})
	if _, _, err := bad.ContentFormat(); err == nil {
		t.Error("expected error for content format above 65535")
	}
}

func TestCode_String(t *testing.T) {
	tests := map[Code]string{
		GET:                  "GET",
		Content:              "2.05 Content",
		NotFound:             "4.04 Not Found",
		ProxyingNotSupported: "5.05 Proxying Not Supported",
		Empty:                "0.00 Empty",
	}
	for code, want := range tests {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}
