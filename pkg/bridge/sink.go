// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"time"

	"github.com/absmach/coapbridge/pkg/coap"
	"github.com/absmach/coapbridge/pkg/radio"
)

// CoAPSink delivers outbound CoAP messages. It must outlive the Bridge that
// holds it.
type CoAPSink interface {
	SendCoAP(msg *coap.Message) error
}

// RadioSink delivers outbound radio messages. It must outlive the Bridge
// that holds it.
type RadioSink interface {
	SendRadio(msg radio.Message) error
}

// CoAPSinkFunc adapts a function to CoAPSink.
type CoAPSinkFunc func(msg *coap.Message) error

// SendCoAP calls f(msg).
func (f CoAPSinkFunc) SendCoAP(msg *coap.Message) error {
	return f(msg)
}

// RadioSinkFunc adapts a function to RadioSink.
type RadioSinkFunc func(msg radio.Message) error

// SendRadio calls f(msg).
func (f RadioSinkFunc) SendRadio(msg radio.Message) error {
	return f(msg)
}

// Clock is the time source used for pending request ages and RTT samples.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, which carries a monotonic reading.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
