// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

func TestInterop_DecodeReferenceEncoding(t *testing.T) {
	ctx := context.Background()
	ref := pool.NewMessage(ctx)
	defer ref.Reset()

	ref.SetCode(codes.GET)
	ref.SetMessageID(100)
	ref.SetType(message.Confirmable)
	ref.SetToken(message.Token{0xde, 0xad})
	if err := ref.SetPath("/remote/speaker"); err != nil {
		t.Fatalf("SetPath() error = %v", err)
	}

	data, err := ref.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		t.Fatalf("Failed to marshal reference message: %v", err)
	}

	m, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m.Type != Confirmable || m.Code != GET || m.MessageID != 100 {
		t.Errorf("unexpected header %v", m)
	}
	if !bytes.Equal(m.Token(), []byte{0xde, 0xad}) {
		t.Errorf("Token = %x", m.Token())
	}
	if !reflect.DeepEqual(m.Path(), []string{"remote", "speaker"}) {
		t.Errorf("Path() = %v", m.Path())
	}

	reencoded, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(reencoded, data) {
		t.Errorf("re-encoding = %x, reference = %x", reencoded, data)
	}
}

func TestInterop_ReferenceDecodesOurEncoding(t *testing.T) {
	m := NewMessage(Confirmable, PUT, 321)
	if err := m.SetToken([]byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatal(err)
	}
	m.SetPath("/remote/lamp")
	m.AddOption(NewUintOption(ContentFormat, uint32(TextPlain)))
	m.Payload = []byte("24")

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	ref := pool.NewMessage(context.Background())
	defer ref.Reset()
	if _, err := ref.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		t.Fatalf("reference failed to unmarshal: %v", err)
	}

	if ref.Code() != codes.PUT {
		t.Errorf("reference code = %v", ref.Code())
	}
	if ref.MessageID() != 321 {
		t.Errorf("reference message id = %d", ref.MessageID())
	}
	if ref.Type() != message.Confirmable {
		t.Errorf("reference type = %v", ref.Type())
	}
	path, err := ref.Options().Path()
	if err != nil || path != "/remote/lamp" {
		t.Errorf("reference path = %q, %v", path, err)
	}
	cf, err := ref.Options().ContentFormat()
	if err != nil || cf != message.TextPlain {
		t.Errorf("reference content format = %v, %v", cf, err)
	}
	body, err := ref.ReadBody()
	if err != nil || string(body) != "24" {
		t.Errorf("reference body = %q, %v", body, err)
	}
}
