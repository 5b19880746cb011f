// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// ErrNotConnected is returned by I/O on a closed transport.
var ErrNotConnected = errors.New("radio transport is not connected")

var _ Transport = (*SerialTransport)(nil)

// SerialTransport exchanges framed radio records with a transceiver
// attached to a serial port.
type SerialTransport struct {
	portName string
	baudRate int
	logger   *slog.Logger

	mu      sync.Mutex
	port    io.ReadWriteCloser
	writeMu sync.Mutex
}

// NewSerialTransport creates a transport for the given port and baud rate.
func NewSerialTransport(portName string, baudRate int, logger *slog.Logger) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
		logger:   transportLogger(logger, "serial", "port", portName),
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	t.logger.Info("serial radio connected", slog.Int("baud", t.baudRate))

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// ReadMessage reads the next frame and decodes it as a radio record.
func (t *SerialTransport) ReadMessage(ctx context.Context) (Message, error) {
	port, err := t.currentPort()
	if err != nil {
		return Message{}, err
	}

	payload, err := readFrame(func(buf []byte) error {
		return readFull(ctx, port, buf)
	})
	if err != nil {
		return Message{}, err
	}

	var m Message
	if err := m.UnmarshalBinary(payload); err != nil {
		return Message{}, err
	}
	return m, nil
}

// SendRadio frames and writes one record.
func (t *SerialTransport) SendRadio(m Message) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	record, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	frame, err := encodeFrame(record)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(port, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *SerialTransport) currentPort() (io.ReadWriteCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// readFull fills buf, tolerating the zero-byte reads a serial read timeout
// produces, and gives up once ctx is done.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

func writeFull(w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		written += n
	}
	return nil
}
