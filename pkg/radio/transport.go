// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package radio

import (
	"context"
	"log/slog"
)

// Transport carries radio messages to and from actuator nodes.
type Transport interface {
	// Name returns a short transport name for logs and metrics.
	Name() string

	// Connect opens the link. Connecting an open transport is a no-op.
	Connect(ctx context.Context) error

	// Close closes the link.
	Close() error

	// Connected reports whether the link is open.
	Connected() bool

	// ReadMessage blocks until a message arrives or ctx is done.
	ReadMessage(ctx context.Context) (Message, error)

	// SendRadio writes one message to the link.
	SendRadio(m Message) error
}

func transportLogger(logger *slog.Logger, name string, attrs ...any) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "radio", "transport", name)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
