// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package radio

import (
	"encoding/binary"
	"fmt"
	"math"
)

var frameHeader = [2]byte{0x94, 0xC3}

type readFullFunc func(buf []byte) error

// encodeFrame prefixes payload with the sync header and its length.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	frame[0] = frameHeader[0]
	frame[1] = frameHeader[1]
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

// readFrame skips bytes until the sync header and returns the next payload.
// Every frame carries one record, so a length other than RecordSize is
// rejected before any payload byte is consumed and the next call resyncs on
// the bytes that follow the bogus header.
func readFrame(readFull readFullFunc) ([]byte, error) {
	if err := resyncToHeader(readFull); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if err := readFull(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	ln := int(binary.BigEndian.Uint16(lenBuf[:]))
	if ln != RecordSize {
		return nil, fmt.Errorf("%w: frame length %d, want %d", ErrInvalidRecord, ln, RecordSize)
	}

	payload := make([]byte, ln)
	if err := readFull(payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

func resyncToHeader(readFull readFullFunc) error {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame header: %w", err)
		}
		// A repeated first header byte may still start the real header.
		for buf[0] == frameHeader[0] {
			if err := readFull(buf); err != nil {
				return fmt.Errorf("read frame header: %w", err)
			}
			if buf[0] == frameHeader[1] {
				return nil
			}
		}
	}
}
