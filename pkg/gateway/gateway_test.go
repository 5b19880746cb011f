// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/absmach/coapbridge/pkg/bridge"
	"github.com/absmach/coapbridge/pkg/coap"
	"github.com/absmach/coapbridge/pkg/radio"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
)

// fakeRadio is an in-memory radio transport.
type fakeRadio struct {
	mu        sync.Mutex
	connected bool
	sendErr   error

	sent    chan radio.Message
	replies chan radio.Message
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		sent:    make(chan radio.Message, 16),
		replies: make(chan radio.Message, 16),
	}
}

func (f *fakeRadio) Name() string { return "fake" }

func (f *fakeRadio) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeRadio) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeRadio) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRadio) ReadMessage(ctx context.Context) (radio.Message, error) {
	select {
	case <-ctx.Done():
		return radio.Message{}, ctx.Err()
	case m := <-f.replies:
		return m, nil
	}
}

func (f *fakeRadio) SendRadio(m radio.Message) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- m
	return nil
}

// actuator answers every radio request. GETs read back value.
func (f *fakeRadio) actuator(ctx context.Context, value uint16) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-f.sent:
			if m.Code == radio.CodeGet {
				m.Value = value
			}
			f.replies <- m
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startGateway(t *testing.T, cfg Config, fr *fakeRadio) *Gateway {
	t.Helper()

	cfg.Address = "127.0.0.1:0"
	cfg.Logger = discardLogger()
	g, err := New(cfg, fr, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Listen(ctx)
	}()

	select {
	case <-g.Ready():
	case err := <-errCh:
		t.Fatalf("Listen() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Listen() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("gateway did not stop")
		}
	})

	return g
}

func dialGateway(t *testing.T, g *Gateway) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, g.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Failed to dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeMessage(t *testing.T, conn *net.UDPConn, msg *coap.Message) {
	t.Helper()

	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
}

func readMessage(t *testing.T, conn *net.UDPConn) *coap.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	res, err := coap.Unmarshal(buf[:n])
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return res
}

func exchange(t *testing.T, conn *net.UDPConn, req *coap.Message) *coap.Message {
	t.Helper()
	writeMessage(t, conn, req)
	return readMessage(t, conn)
}

func TestGateway_Requests(t *testing.T) {
	fr := newFakeRadio()
	g := startGateway(t, Config{}, fr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fr.actuator(ctx, 9)

	conn := dialGateway(t, g)

	tests := []struct {
		name    string
		req     func() *coap.Message
		code    coap.Code
		payload string
	}{
		{
			name: "local metric",
			req: func() *coap.Message {
				m := coap.NewMessage(coap.Confirmable, coap.GET, 1)
				m.SetPath("local/timed-out")
				return m
			},
			code:    coap.Content,
			payload: "0",
		},
		{
			name: "remote get",
			req: func() *coap.Message {
				m := coap.NewMessage(coap.Confirmable, coap.GET, 2)
				m.SetPath("remote/speaker")
				return m
			},
			code:    coap.Content,
			payload: "9",
		},
		{
			name: "remote put",
			req: func() *coap.Message {
				m := coap.NewMessage(coap.Confirmable, coap.PUT, 3)
				m.SetPath("remote/lamp")
				m.AddOption(coap.NewUintOption(coap.ContentFormat, uint32(coap.TextPlain)))
				m.Payload = []byte("24")
				return m
			},
			code:    coap.Changed,
			payload: "24",
		},
		{
			name: "unknown path",
			req: func() *coap.Message {
				m := coap.NewMessage(coap.NonConfirmable, coap.GET, 4)
				m.SetPath("remote/fan")
				return m
			},
			code: coap.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req()
			if err := req.SetToken([]byte{0x01, byte(req.MessageID)}); err != nil {
				t.Fatal(err)
			}

			res := exchange(t, conn, req)
			if res.Code != tt.code {
				t.Errorf("response code = %s, want %s", res.Code, tt.code)
			}
			if res.MessageID != req.MessageID {
				t.Errorf("response message id = %d, want %d", res.MessageID, req.MessageID)
			}
			if string(res.Token()) != string(req.Token()) {
				t.Errorf("response token = %x, want %x", res.Token(), req.Token())
			}
			if string(res.Payload) != tt.payload {
				t.Errorf("response payload = %q, want %q", res.Payload, tt.payload)
			}
		})
	}

	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", g.Pending())
	}
	if got := g.Telemetry().Completed; got != 2 {
		t.Errorf("Completed = %d, want 2", got)
	}
}

func TestGateway_RoutesReplyToRequester(t *testing.T) {
	fr := newFakeRadio()
	g := startGateway(t, Config{}, fr)
	peerA := dialGateway(t, g)
	peerB := dialGateway(t, g)

	reqA := coap.NewMessage(coap.Confirmable, coap.GET, 100)
	reqA.SetPath("remote/speaker")
	if err := reqA.SetToken([]byte{0xA0}); err != nil {
		t.Fatal(err)
	}
	writeMessage(t, peerA, reqA)

	select {
	case m := <-fr.sent:
		if m.MessageID != 100 {
			t.Fatalf("radio request message id = %d, want 100", m.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request was not forwarded to the radio")
	}

	// Peer B reuses the id: its remote request is rejected, its local one
	// is answered to B.
	reqB := coap.NewMessage(coap.Confirmable, coap.GET, 100)
	reqB.SetPath("remote/lamp")
	writeMessage(t, peerB, reqB)

	localB := coap.NewMessage(coap.Confirmable, coap.GET, 100)
	localB.SetPath("local/timed-out")
	if res := exchange(t, peerB, localB); res.Code != coap.Content || res.MessageID != 100 {
		t.Fatalf("local response to B = %s, want 2.05 mid=100", res)
	}

	fr.replies <- radio.Message{MessageID: 100, Code: radio.CodeGet, Resource: uint16(bridge.Speaker), Value: 9}

	res := readMessage(t, peerA)
	if res.Code != coap.Content || string(res.Payload) != "9" || string(res.Token()) != string(reqA.Token()) {
		t.Errorf("response to A = %s, want 2.05 \"9\" with A's token", res)
	}

	peerB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1500)
	if n, err := peerB.Read(buf); err == nil {
		t.Errorf("peer B received a %d byte datagram meant for A", n)
	}
}

func TestGateway_MalformedDatagramIgnored(t *testing.T) {
	fr := newFakeRadio()
	g := startGateway(t, Config{}, fr)
	conn := dialGateway(t, g)

	if _, err := conn.Write([]byte{0x40, 0x01}); err != nil {
		t.Fatalf("Failed to write datagram: %v", err)
	}

	// The gateway keeps serving after the bad datagram.
	res := exchange(t, conn, coap.NewMessage(coap.Confirmable, coap.Empty, 0xB76C))
	if res.Type != coap.Reset || res.MessageID != 0xB76C {
		t.Errorf("ping reply = %s, want RST mid=46956", res)
	}
}

func TestGateway_RadioDown(t *testing.T) {
	fr := newFakeRadio()
	fr.sendErr = errors.New("transceiver unplugged")
	g := startGateway(t, Config{}, fr)
	conn := dialGateway(t, g)

	req := coap.NewMessage(coap.Confirmable, coap.GET, 10)
	req.SetPath("remote/speaker")

	res := exchange(t, conn, req)
	if res.Code != coap.ServiceUnavailable {
		t.Errorf("response code = %s, want %s", res.Code, coap.ServiceUnavailable)
	}
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", g.Pending())
	}
}

func TestGateway_PingsPeer(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create peer listener: %v", err)
	}
	defer peer.Close()

	fr := newFakeRadio()
	g := startGateway(t, Config{
		PeerAddress:  peer.LocalAddr().String(),
		PingInterval: 20 * time.Millisecond,
		Bridge:       bridge.Config{InitialMessageID: 1000},
	}, fr)

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Failed to read ping: %v", err)
	}
	ping, err := coap.Unmarshal(buf[:n])
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ping.Type != coap.Confirmable || ping.Code != coap.Empty {
		t.Fatalf("ping = %s, want CON Empty", ping)
	}

	pong, _ := coap.NewMessage(coap.Acknowledgement, coap.Empty, ping.MessageID).Marshal()
	if _, err := peer.WriteToUDP(pong, from); err != nil {
		t.Fatalf("Failed to write pong: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.Telemetry().Completed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pong was not matched to the ping")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := g.Telemetry().PingCount; got == 0 {
		t.Errorf("PingCount = %d, want > 0", got)
	}
}

func TestGateway_ReferenceClient(t *testing.T) {
	fr := newFakeRadio()
	g := startGateway(t, Config{}, fr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go fr.actuator(ctx, 1)

	co, err := udp.Dial(g.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial gateway: %v", err)
	}
	defer co.Close()

	for _, tc := range []struct {
		path string
		body string
	}{
		{path: "/local/rtt", body: "0"},
		{path: "/remote/lamp", body: "1"},
	} {
		resp, err := co.Get(ctx, tc.path)
		if err != nil {
			t.Fatalf("GET %s error = %v", tc.path, err)
		}
		if resp.Code() != codes.Content {
			t.Errorf("GET %s code = %v, want Content", tc.path, resp.Code())
		}
		body, err := resp.ReadBody()
		if err != nil {
			t.Fatalf("ReadBody() error = %v", err)
		}
		if string(body) != tc.body {
			t.Errorf("GET %s body = %q, want %q", tc.path, body, tc.body)
		}
	}
}

func TestPeerTable(t *testing.T) {
	now := time.Unix(0, 0)
	pt := NewPeerTable(discardLogger(), 2)
	pt.now = func() time.Time { return now }

	a := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5683}
	b := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5683}
	c := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 5683}

	pa, isNew, err := pt.Touch(a)
	if err != nil || !isNew || pa.ID == "" {
		t.Fatalf("Touch(a) = %+v, %v, %v", pa, isNew, err)
	}
	again, isNew, _ := pt.Touch(a)
	if isNew || again != pa {
		t.Error("Touch(a) twice created a second peer")
	}

	pt.Route(100, pa)
	if p, ok := pt.Resolve(100); !ok || p != pa {
		t.Errorf("Resolve(100) = %v, %v", p, ok)
	}
	if _, ok := pt.Resolve(100); ok {
		t.Error("Resolve(100) succeeded twice")
	}

	now = now.Add(time.Minute)
	pb, _, _ := pt.Touch(b)
	if _, _, err := pt.Touch(c); err == nil {
		t.Error("Touch(c) beyond the peer limit succeeded")
	}

	pt.Route(7, pa)
	pt.Route(8, pb)
	if n := pt.Cleanup(30 * time.Second); n != 1 {
		t.Fatalf("Cleanup() = %d, want 1", n)
	}
	if _, ok := pt.Resolve(7); ok {
		t.Error("route of the expired peer survived")
	}
	if p, ok := pt.Resolve(8); !ok || p != pb {
		t.Error("route of the active peer was removed")
	}
	if pt.Count() != 1 {
		t.Errorf("Count() = %d, want 1", pt.Count())
	}

	pt.Route(20, pb)
	pt.Route(21, pb)
	if n := pt.Retain(func(mid uint16) bool { return mid == 21 }); n != 1 {
		t.Errorf("Retain() = %d, want 1", n)
	}
	if _, ok := pt.Resolve(20); ok {
		t.Error("route rejected by Retain survived")
	}
	if p, ok := pt.Resolve(21); !ok || p != pb {
		t.Error("route kept by Retain was removed")
	}
}
