// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const udpReadDeadline = 500 * time.Millisecond

var _ Transport = (*UDPTransport)(nil)

// UDPTransport carries one radio record per datagram. It reaches actuator
// nodes behind an IP radio gateway, or a radio emulator in tests.
type UDPTransport struct {
	address string
	logger  *slog.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPTransport creates a transport that exchanges records with address.
func NewUDPTransport(address string, logger *slog.Logger) *UDPTransport {
	return &UDPTransport{
		address: address,
		logger:  transportLogger(logger, "udp", "target", address),
	}
}

func (t *UDPTransport) Name() string {
	return "udp"
}

func (t *UDPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *UDPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", t.address)
	if err != nil {
		return fmt.Errorf("failed to resolve radio address %s: %w", t.address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to dial radio address %s: %w", t.address, err)
	}
	t.conn = conn
	t.logger.Info("udp radio connected", slog.String("local", conn.LocalAddr().String()))

	return nil
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// LocalAddr returns the local address of an open transport.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// ReadMessage waits for the next record datagram. Datagrams of the wrong
// size are returned as ErrInvalidRecord so the caller can skip them.
func (t *UDPTransport) ReadMessage(ctx context.Context) (Message, error) {
	conn, err := t.currentConn()
	if err != nil {
		return Message{}, err
	}

	buf := make([]byte, RecordSize+1)
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(udpReadDeadline)); err != nil {
			return Message{}, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return Message{}, err
		}

		var m Message
		if err := m.UnmarshalBinary(buf[:n]); err != nil {
			return Message{}, err
		}
		return m, nil
	}
}

// SendRadio writes one record datagram.
func (t *UDPTransport) SendRadio(m Message) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	record, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := conn.Write(record); err != nil {
		return fmt.Errorf("write radio datagram: %w", err)
	}
	return nil
}

func (t *UDPTransport) currentConn() (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}
